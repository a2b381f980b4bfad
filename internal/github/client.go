// Package github is the GitHub Discussions adapter of the bridge. It wraps the
// GraphQL v4 API (Discussions have no REST endpoints for creation) behind the
// small capability set the sync services consume: create a discussion, add a
// comment, resolve a discussion URL, and resolve the repository node id.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/ku-fe/kufe-discussions-bot/internal/domain"
	"github.com/ku-fe/kufe-discussions-bot/internal/observability"
)

const apiName = "github"

// ErrNotDiscussion is returned when a node id resolves to something other
// than a discussion.
var ErrNotDiscussion = errors.New("github: node is not a discussion")

// Error describes a failed GraphQL operation. Err carries the transport
// status or the GraphQL error list as reported by the client library.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "github " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Config configures Client.
type Config struct {
	Token      string
	Owner      string
	Repo       string
	CategoryID string

	// GraphQLURL overrides the public endpoint (GitHub Enterprise, tests).
	GraphQLURL string

	// Timeout bounds each API call. Zero leaves the transport default.
	Timeout time.Duration

	// HTTPClient is the base transport the token is attached to. Optional.
	HTTPClient *http.Client
}

// Client talks to one repository and one discussion category.
type Client struct {
	gql        *githubv4.Client
	owner      string
	repo       string
	categoryID string

	mu     sync.Mutex
	repoID string
}

// New returns a Client. It performs no network calls; see Verify.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("github: token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github: owner and repo are required")
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	if cfg.Timeout > 0 {
		cp := *base
		cp.Timeout = cfg.Timeout
		base = &cp
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))

	var gql *githubv4.Client
	if cfg.GraphQLURL != "" {
		gql = githubv4.NewEnterpriseClient(cfg.GraphQLURL, hc)
	} else {
		gql = githubv4.NewClient(hc)
	}

	return &Client{
		gql:        gql,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		categoryID: cfg.CategoryID,
	}, nil
}

// Verify checks the token and prefetches the repository id. It returns the
// authenticated login.
func (c *Client) Verify(ctx context.Context) (string, error) {
	var q struct {
		Viewer struct {
			Login string
		}
	}
	if err := c.query(ctx, "viewer", &q, nil); err != nil {
		return "", err
	}
	id, err := c.RepositoryID(ctx)
	if err != nil {
		return "", err
	}
	log.Info().Str("login", q.Viewer.Login).Str("repository_id", id).Msg("github client ready")
	return q.Viewer.Login, nil
}

// RepositoryID returns the repository node id, resolving it once.
func (c *Client) RepositoryID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repoID != "" {
		return c.repoID, nil
	}

	var q struct {
		Repository struct {
			ID string
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]any{
		"owner": githubv4.String(c.owner),
		"name":  githubv4.String(c.repo),
	}
	if err := c.query(ctx, "repository", &q, vars); err != nil {
		return "", err
	}
	if q.Repository.ID == "" {
		return "", &Error{Op: "repository", Err: fmt.Errorf("repository %s/%s not found", c.owner, c.repo)}
	}
	c.repoID = q.Repository.ID
	return c.repoID, nil
}

// CreateDiscussion opens a discussion in the configured category.
func (c *Client) CreateDiscussion(ctx context.Context, title, body string) (domain.RemoteDiscussion, error) {
	repoID, err := c.RepositoryID(ctx)
	if err != nil {
		return domain.RemoteDiscussion{}, err
	}

	var m struct {
		CreateDiscussion struct {
			Discussion struct {
				ID  string
				URL string
			}
		} `graphql:"createDiscussion(input: $input)"`
	}
	input := githubv4.CreateDiscussionInput{
		RepositoryID: githubv4.ID(repoID),
		CategoryID:   githubv4.ID(c.categoryID),
		Title:        githubv4.String(title),
		Body:         githubv4.String(body),
	}
	err = c.gql.Mutate(ctx, &m, input, nil)
	observability.RecordRemoteCall(apiName, "create_discussion", err)
	if err != nil {
		return domain.RemoteDiscussion{}, &Error{Op: "createDiscussion", Err: err}
	}
	d := m.CreateDiscussion.Discussion
	return domain.RemoteDiscussion{ID: d.ID, URL: d.URL}, nil
}

// AddComment adds a top-level comment to a discussion.
func (c *Client) AddComment(ctx context.Context, discussionID, body string) (domain.RemoteComment, error) {
	var m struct {
		AddDiscussionComment struct {
			Comment struct {
				ID  string
				URL string
			}
		} `graphql:"addDiscussionComment(input: $input)"`
	}
	input := githubv4.AddDiscussionCommentInput{
		DiscussionID: githubv4.ID(discussionID),
		Body:         githubv4.String(body),
	}
	err := c.gql.Mutate(ctx, &m, input, nil)
	observability.RecordRemoteCall(apiName, "add_discussion_comment", err)
	if err != nil {
		return domain.RemoteComment{}, &Error{Op: "addDiscussionComment", Err: err}
	}
	cm := m.AddDiscussionComment.Comment
	return domain.RemoteComment{ID: cm.ID, URL: cm.URL}, nil
}

// DiscussionURL resolves a discussion node id to its browser URL.
func (c *Client) DiscussionURL(ctx context.Context, discussionID string) (string, error) {
	var q struct {
		Node struct {
			Discussion struct {
				URL string
			} `graphql:"... on Discussion"`
		} `graphql:"node(id: $id)"`
	}
	vars := map[string]any{"id": githubv4.ID(discussionID)}
	if err := c.query(ctx, "node", &q, vars); err != nil {
		return "", err
	}
	if q.Node.Discussion.URL == "" {
		return "", ErrNotDiscussion
	}
	return q.Node.Discussion.URL, nil
}

func (c *Client) query(ctx context.Context, op string, q any, vars map[string]any) error {
	err := c.gql.Query(ctx, q, vars)
	observability.RecordRemoteCall(apiName, op, err)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}
