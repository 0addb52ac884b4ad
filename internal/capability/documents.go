package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CapCreateDoc is the wire name of the document-creation capability.
// The session controller watches for it to spawn sessions on new
// documents.
const CapCreateDoc = "create-doc"

// Wire names of the remaining document and comment capabilities.
const (
	capReadDoc       = "read-doc"
	capRewriteDoc    = "rewrite-document"
	capReadComments  = "read-comments"
	capCreateComment = "create-comment"
	capReplyComment  = "reply-comment"
	capDeleteReply   = "delete-reply"
)

// DocumentStore is the typed facade over the document capabilities.
// Each operation declares its parameters at compile time; there is no
// runtime parameter introspection.
type DocumentStore struct {
	reg *Registry
}

// NewDocumentStore returns a document store backed by the registry.
func NewDocumentStore(reg *Registry) *DocumentStore {
	return &DocumentStore{reg: reg}
}

// ReadDoc fetches the raw body of a document.
func (s *DocumentStore) ReadDoc(ctx context.Context, documentID string) (string, error) {
	return s.reg.Invoke(ctx, capReadDoc, map[string]any{
		"document_id": documentID,
	})
}

// RewriteDocument replaces the full document body.
func (s *DocumentStore) RewriteDocument(ctx context.Context, documentID, finalText string) error {
	_, err := s.reg.Invoke(ctx, capRewriteDoc, map[string]any{
		"document_id": documentID,
		"final_text":  finalText,
	})
	return err
}

// CreateDoc creates a new document and returns the provider's reply,
// which contains the new document's URL.
func (s *DocumentStore) CreateDoc(ctx context.Context, title string) (string, error) {
	return s.reg.Invoke(ctx, CapCreateDoc, map[string]any{
		"title": title,
	})
}

// Reply is one reply on a comment thread.
type Reply struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Comment is one comment on a document.
type Comment struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	ModifiedTime string  `json:"modifiedTime"`
	Resolved     bool    `json:"resolved"`
	Replies      []Reply `json:"replies"`
}

// ModifiedAt parses the comment's modification timestamp. A false
// return means the timestamp was absent or unparsable and the comment
// should be skipped.
func (c Comment) ModifiedAt() (time.Time, bool) {
	if c.ModifiedTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, c.ModifiedTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LastReply returns the most recent reply, if any.
func (c Comment) LastReply() (Reply, bool) {
	if len(c.Replies) == 0 {
		return Reply{}, false
	}
	return c.Replies[len(c.Replies)-1], true
}

// CommentStore is the typed facade over the comment capabilities.
type CommentStore struct {
	reg *Registry
}

// NewCommentStore returns a comment store backed by the registry.
func NewCommentStore(reg *Registry) *CommentStore {
	return &CommentStore{reg: reg}
}

// ReadComments lists all comments on a document.
func (s *CommentStore) ReadComments(ctx context.Context, documentID string) ([]Comment, error) {
	out, err := s.reg.Invoke(ctx, capReadComments, map[string]any{
		"document_id": documentID,
	})
	if err != nil {
		return nil, err
	}

	var comments []Comment
	if err := json.Unmarshal([]byte(out), &comments); err != nil {
		return nil, fmt.Errorf("parsing comments: %w", err)
	}
	return comments, nil
}

// CreateComment adds a new top-level comment.
func (s *CommentStore) CreateComment(ctx context.Context, documentID, content string) error {
	_, err := s.reg.Invoke(ctx, capCreateComment, map[string]any{
		"document_id": documentID,
		"content":     content,
	})
	return err
}

// ReplyComment posts a reply on an existing comment thread.
func (s *CommentStore) ReplyComment(ctx context.Context, documentID, commentID, reply string) error {
	_, err := s.reg.Invoke(ctx, capReplyComment, map[string]any{
		"document_id": documentID,
		"comment_id":  commentID,
		"reply":       reply,
	})
	return err
}

// DeleteReply removes a reply from a comment thread.
func (s *CommentStore) DeleteReply(ctx context.Context, documentID, commentID, replyID string) error {
	_, err := s.reg.Invoke(ctx, capDeleteReply, map[string]any{
		"document_id": documentID,
		"comment_id":  commentID,
		"reply_id":    replyID,
	})
	return err
}
