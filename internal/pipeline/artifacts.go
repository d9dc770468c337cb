package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names, written into the dump directory so each stage can
// re-run from its predecessor's output without repeating earlier scans.
const (
	QuestionsFile           = "Questions.json"
	PostIdsFile             = "PostIds.json"
	ExtendedQuestionIdsFile = "ExtendedQuestionIds.json"
	QuestionSummariesFile   = "QuestionSummaries.json"
	VoteCountsFile          = "VoteCounts.json"
)

// QuestionSelection is the tag-selection artifact: the chosen question ids
// together with the term lists that produced them, for provenance.
type QuestionSelection struct {
	TagsToInclude string  `json:"tagsToInclude"`
	TagsToExclude string  `json:"tagsToExclude"`
	PostIds       []int64 `json:"postIds"`
}

// QuestionSummary carries the question fields propagated onto its answers.
type QuestionSummary struct {
	Tags      string `json:"Tags"`
	ViewCount int64  `json:"ViewCount"`
	Title     string `json:"Title"`
}

func writeArtifact(dir, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readArtifact(dir, name string, v any) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// LoadQuestionSelection reads the tag-selection artifact from dir.
func LoadQuestionSelection(dir string) (QuestionSelection, error) {
	var sel QuestionSelection
	err := readArtifact(dir, QuestionsFile, &sel)
	return sel, err
}

// LoadPostIds reads the extended post-id artifact from dir.
func LoadPostIds(dir string) (IdSet, error) {
	var ids []int64
	if err := readArtifact(dir, PostIdsFile, &ids); err != nil {
		return nil, err
	}
	return NewIdSet(ids...), nil
}

// LoadQuestionSummaries reads the question-summary artifact from dir.
func LoadQuestionSummaries(dir string) (map[int64]QuestionSummary, error) {
	summaries := make(map[int64]QuestionSummary)
	if err := readArtifact(dir, QuestionSummariesFile, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// LoadVoteCounts reads the vote-tally artifact from dir.
func LoadVoteCounts(dir string) (map[int64]int64, error) {
	votes := make(map[int64]int64)
	if err := readArtifact(dir, VoteCountsFile, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}
