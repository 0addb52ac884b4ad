// Package docstore provides an in-memory document and comment MCP
// server. It speaks the same wire contract as the real document
// providers (read-doc, rewrite-document, comment threads), which makes
// it useful for local runs and integration testing without external
// credentials.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

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

// Store holds the in-memory documents and their comment threads.
type Store struct {
	mu       sync.Mutex
	docs     map[string]string
	comments map[string][]*Comment
	nextID   int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		docs:     make(map[string]string),
		comments: make(map[string][]*Comment),
	}
}

// Seed installs a document body directly, bypassing the tool surface.
func (s *Store) Seed(documentID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = content
}

func (s *Store) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%d", prefix, s.nextID)
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// envelope wraps a tool result the way the document providers do:
// a JSON object with an "output" field.
func envelope(output string) *mcp.CallToolResult {
	data, _ := json.Marshal(map[string]string{"output": output})
	return mcp.NewToolResultText(string(data))
}

// NewServer creates an MCP server exposing the store's tools.
func NewServer(store *Store) *server.MCPServer {
	s := server.NewMCPServer(
		"docstore",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("read-doc",
		mcp.WithDescription("Reads the full text of a document"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document to read")),
	), store.readDoc)

	s.AddTool(mcp.NewTool("rewrite-document",
		mcp.WithDescription("Replaces the full text of a document"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document to rewrite")),
		mcp.WithString("final_text", mcp.Required(), mcp.Description("New document body")),
	), store.rewriteDocument)

	s.AddTool(mcp.NewTool("create-doc",
		mcp.WithDescription("Creates a new empty document"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Document title")),
	), store.createDoc)

	s.AddTool(mcp.NewTool("read-comments",
		mcp.WithDescription("Lists all comments on a document"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document to list comments for")),
	), store.readComments)

	s.AddTool(mcp.NewTool("create-comment",
		mcp.WithDescription("Adds a new comment to a document"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document to comment on")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Comment text")),
	), store.createComment)

	s.AddTool(mcp.NewTool("reply-comment",
		mcp.WithDescription("Posts a reply on an existing comment thread"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document the comment belongs to")),
		mcp.WithString("comment_id", mcp.Required(), mcp.Description("Comment to reply to")),
		mcp.WithString("reply", mcp.Required(), mcp.Description("Reply text")),
	), store.replyComment)

	s.AddTool(mcp.NewTool("delete-reply",
		mcp.WithDescription("Deletes a reply from a comment thread"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document the comment belongs to")),
		mcp.WithString("comment_id", mcp.Required(), mcp.Description("Comment the reply belongs to")),
		mcp.WithString("reply_id", mcp.Required(), mcp.Description("Reply to delete")),
	), store.deleteReply)

	return s
}

func (s *Store) readDoc(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.docs[docID]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("document not found: %s", docID)), nil
	}
	return envelope(content), nil
}

func (s *Store) rewriteDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	finalText, err := request.RequireString("final_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		return mcp.NewToolResultError(fmt.Sprintf("document not found: %s", docID)), nil
	}
	s.docs[docID] = finalText
	return envelope("Document updated."), nil
}

func (s *Store) createDoc(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docID := s.newID("doc")
	s.docs[docID] = ""
	return envelope(fmt.Sprintf("Created document %q with id %s", title, docID)), nil
}

func (s *Store) readComments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	comments := s.comments[docID]
	if comments == nil {
		comments = []*Comment{}
	}
	data, err := json.Marshal(comments)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return envelope(string(data)), nil
}

func (s *Store) createComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	comment := &Comment{
		ID:           s.newID("comment"),
		Content:      content,
		ModifiedTime: now(),
		Replies:      []Reply{},
	}
	s.comments[docID] = append(s.comments[docID], comment)
	return envelope(comment.ID), nil
}

func (s *Store) replyComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	commentID, err := request.RequireString("comment_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reply, err := request.RequireString("reply")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, comment := range s.comments[docID] {
		if comment.ID != commentID {
			continue
		}
		comment.Replies = append(comment.Replies, Reply{ID: s.newID("reply"), Content: reply})
		comment.ModifiedTime = now()
		return envelope("Reply posted."), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("comment not found: %s", commentID)), nil
}

func (s *Store) deleteReply(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	commentID, err := request.RequireString("comment_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	replyID, err := request.RequireString("reply_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, comment := range s.comments[docID] {
		if comment.ID != commentID {
			continue
		}
		for i, r := range comment.Replies {
			if r.ID == replyID {
				comment.Replies = append(comment.Replies[:i], comment.Replies[i+1:]...)
				return envelope("Reply deleted."), nil
			}
		}
		return mcp.NewToolResultError(fmt.Sprintf("reply not found: %s", replyID)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("comment not found: %s", commentID)), nil
}
