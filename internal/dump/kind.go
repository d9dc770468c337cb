// Package dump understands the Stack Exchange data-dump format: the record
// kinds and their field schemas, per-line XML row parsing, and a streaming
// reader with backpressure for multi-gigabyte files.
package dump

import (
	"fmt"
)

// RecordKind identifies the category of a dump record. The set is closed;
// switches over RecordKind are exhaustive so adding a kind is a
// compile-time-checked change.
type RecordKind int

const (
	KindPost RecordKind = iota
	KindComment
	KindUser
	KindPostLink
	KindVote
)

// String returns the store type name for the kind (sepost, secomment, ...),
// matching the collection naming scheme <indexPrefix><kind>.
func (k RecordKind) String() string {
	switch k {
	case KindPost:
		return "sepost"
	case KindComment:
		return "secomment"
	case KindUser:
		return "seuser"
	case KindPostLink:
		return "sepostlink"
	case KindVote:
		return "sevote"
	default:
		return fmt.Sprintf("RecordKind(%d)", int(k))
	}
}

// FileName returns the dump file that carries records of this kind.
func (k RecordKind) FileName() string {
	switch k {
	case KindPost:
		return "Posts.xml"
	case KindComment:
		return "Comments.xml"
	case KindUser:
		return "Users.xml"
	case KindPostLink:
		return "PostLinks.xml"
	case KindVote:
		return "Votes.xml"
	default:
		return ""
	}
}

// ParseKind maps a store type name back to its RecordKind.
func ParseKind(s string) (RecordKind, error) {
	switch s {
	case "sepost":
		return KindPost, nil
	case "secomment":
		return KindComment, nil
	case "seuser":
		return KindUser, nil
	case "sepostlink":
		return KindPostLink, nil
	case "sevote":
		return KindVote, nil
	default:
		return 0, fmt.Errorf("unknown record kind %q", s)
	}
}

// IndexedKinds lists the kinds written to the target store, in the order
// they must be indexed. Users come after posts and comments because the
// user inclusion predicate queries those collections.
func IndexedKinds() []RecordKind {
	return []RecordKind{KindPost, KindComment, KindUser, KindPostLink}
}

// PostTypeId values distinguishing questions from answers in Posts.xml.
const (
	PostTypeQuestion int64 = 1
	PostTypeAnswer   int64 = 2
)

// VoteTypeId values recognized by vote aggregation; every other code is
// ignored.
const (
	VoteTypeUp   int64 = 2
	VoteTypeDown int64 = 3
)

// FieldType declares how a schema field is typed in the target store.
type FieldType int

const (
	FieldInteger FieldType = iota
	FieldText
	FieldDate
	FieldKeyword
)

// Schema maps declared field names to their types. Fields absent from a
// kind's schema are stripped during normalization.
type Schema map[string]FieldType

var postSchema = Schema{
	"Id":               FieldInteger,
	"PostTypeId":       FieldInteger,
	"AcceptedAnswerId": FieldInteger,
	"ParentId":         FieldInteger,
	"Score":            FieldInteger,
	"ViewCount":        FieldInteger,
	"OwnerUserId":      FieldInteger,
	"AnswerCount":      FieldInteger,
	"CommentCount":     FieldInteger,
	"FavoriteCount":    FieldInteger,
	"Body":             FieldText,
	"Title":            FieldText,
	"QuestionTitle":    FieldText,
	"OwnerDisplayName": FieldKeyword,
	"CreationDate":     FieldDate,
	"Tags":             FieldText,
	"VoteCount":        FieldInteger,
}

var commentSchema = Schema{
	"Id":              FieldInteger,
	"PostId":          FieldInteger,
	"UserId":          FieldInteger,
	"Text":            FieldText,
	"UserDisplayName": FieldKeyword,
	"CreationDate":    FieldDate,
}

var userSchema = Schema{
	"Id":          FieldInteger,
	"DisplayName": FieldKeyword,
	"AccountId":   FieldInteger,
}

var postLinkSchema = Schema{
	"Id":            FieldInteger,
	"PostId":        FieldInteger,
	"RelatedPostId": FieldInteger,
	"LinkTypeId":    FieldInteger,
}

var voteSchema = Schema{
	"Id":           FieldInteger,
	"PostId":       FieldInteger,
	"VoteTypeId":   FieldInteger,
	"CreationDate": FieldDate,
}

// SchemaFor returns the static field schema for a kind. Schemas are defined
// at process start and never mutated.
func SchemaFor(k RecordKind) Schema {
	switch k {
	case KindPost:
		return postSchema
	case KindComment:
		return commentSchema
	case KindUser:
		return userSchema
	case KindPostLink:
		return postLinkSchema
	case KindVote:
		return voteSchema
	default:
		return nil
	}
}
