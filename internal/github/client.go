// Package github reads files from and commits files to a GitHub repository
// through the REST contents and git-data APIs.
//
// A commit adds any number of files atomically: resolve the branch head,
// create one blob per file, build a tree on top of the head's tree, create
// a commit whose parent is the head, then fast-forward the branch ref. When
// another writer moves the branch in between, the ref update is rejected
// and the whole sequence, including the caller's build step, is retried from
// a fresh head.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/httpretry"
	"github.com/avku/reports-bot/internal/metrics"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
)

var (
	// ErrNotFound matches errors for files or refs that do not exist.
	ErrNotFound = errors.New("github: not found")

	// ErrConflict matches errors for rejected, non-fast-forward ref updates.
	ErrConflict = errors.New("github: ref update conflict")
)

var conflictMessage = regexp.MustCompile(`(?i)reference update failed|fast forward`)

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github %s: %d %s", e.Op, e.Status, e.Message)
}

// Is lets errors.Is match ErrNotFound and ErrConflict.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict ||
			(e.Status == http.StatusUnprocessableEntity && conflictMessage.MatchString(e.Message))
	}
	return false
}

// File is a file read from the repository.
type File struct {
	Content []byte
	SHA     string
}

// FileChange is one file to add or replace in a commit.
type FileChange struct {
	Path    string
	Content []byte
}

// Config identifies the repository and tunes commit retries.
type Config struct {
	Owner         string
	Repo          string
	Token         string
	BaseURL       string
	CommitRetries int
}

// Client talks to one repository.
type Client struct {
	http          *httpretry.Client
	owner         string
	repo          string
	token         string
	baseURL       string
	policy        httpretry.Policy
	commitRetries int
	sleep         func(ctx context.Context, d time.Duration) error
	jitter        func() time.Duration
}

// NewClient creates a Client. A nil httpClient uses httpretry.New(nil).
func NewClient(cfg Config, httpClient *httpretry.Client) *Client {
	if httpClient == nil {
		httpClient = httpretry.New(nil)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		http:          httpClient,
		owner:         cfg.Owner,
		repo:          cfg.Repo,
		token:         cfg.Token,
		baseURL:       base,
		policy:        httpretry.DefaultPolicy,
		commitRetries: cfg.CommitRetries,
		sleep:         sleepCtx,
		jitter:        func() time.Duration { return rand.N(200 * time.Millisecond) },
	}
}

// ReadFile returns the file at path on ref. Missing files yield an error
// matching ErrNotFound.
func (c *Client) ReadFile(ctx context.Context, path, ref string) (*File, error) {
	endpoint := c.repoURL("contents/" + escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	var out struct {
		SHA      string `json:"sha"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		Type     string `json:"type"`
	}
	if err := c.call(ctx, "contents.get", http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if out.Type != "" && out.Type != "file" {
		return nil, fmt.Errorf("github contents.get %s: not a file (%s)", path, out.Type)
	}

	// Files over 1 MB come back without inline content.
	if out.Encoding == "none" || (out.Content == "" && out.SHA != "") {
		return c.readBlob(ctx, out.SHA)
	}
	data, err := decodeBase64(out.Content)
	if err != nil {
		return nil, fmt.Errorf("github contents.get %s: decode: %w", path, err)
	}
	return &File{Content: data, SHA: out.SHA}, nil
}

func (c *Client) readBlob(ctx context.Context, sha string) (*File, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.call(ctx, "blobs.get", http.MethodGet, c.repoURL("git/blobs/"+sha), nil, &out); err != nil {
		return nil, err
	}
	if out.Encoding != "base64" {
		return &File{Content: []byte(out.Content), SHA: sha}, nil
	}
	data, err := decodeBase64(out.Content)
	if err != nil {
		return nil, fmt.Errorf("github blobs.get %s: decode: %w", sha, err)
	}
	return &File{Content: data, SHA: sha}, nil
}

// BuildFunc produces the message and files of a commit on top of head.
// It runs once per attempt, so content derived from repository state must be
// read at head inside the function.
type BuildFunc func(ctx context.Context, head string) (message string, files []FileChange, err error)

// Commit resolves the branch head, asks build for the commit contents and
// writes them in a single commit. Non-fast-forward rejections start over
// from the new head, calling build again, up to the configured number of
// times; when they persist the error matches ErrConflict.
func (c *Client) Commit(ctx context.Context, branch string, build BuildFunc) (string, error) {
	for attempt := 0; ; attempt++ {
		sha, err := c.commitOnce(ctx, branch, build)
		if err == nil {
			return sha, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
		if attempt >= c.commitRetries {
			return "", fmt.Errorf("commit to %s: conflict after %d attempt(s): %w", branch, attempt+1, err)
		}

		delay := time.Duration(attempt+1)*400*time.Millisecond + c.jitter()
		log.Warn().Err(err).Str("branch", branch).Int("attempt", attempt+1).Dur("delay", delay).
			Msg("Branch moved during commit, rebuilding from new head")
		metrics.New(metrics.Namespace).Count("CommitConflictRetry").Flush()
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (c *Client) commitOnce(ctx context.Context, branch string, build BuildFunc) (string, error) {
	refPath := "heads/" + escapePath(branch)

	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.call(ctx, "ref.get", http.MethodGet, c.repoURL("git/ref/"+refPath), nil, &ref); err != nil {
		return "", err
	}
	head := ref.Object.SHA

	message, files, err := build(ctx, head)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.New("github: commit with no files")
	}

	var headCommit struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.call(ctx, "commit.get", http.MethodGet, c.repoURL("git/commits/"+head), nil, &headCommit); err != nil {
		return "", err
	}

	type treeEntry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	entries := make([]treeEntry, 0, len(files))
	for _, f := range files {
		var blob struct {
			SHA string `json:"sha"`
		}
		body := map[string]string{
			"content":  base64.StdEncoding.EncodeToString(f.Content),
			"encoding": "base64",
		}
		if err := c.call(ctx, "blob.create", http.MethodPost, c.repoURL("git/blobs"), body, &blob); err != nil {
			return "", fmt.Errorf("blob for %s: %w", f.Path, err)
		}
		entries = append(entries, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", SHA: blob.SHA})
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	treeReq := map[string]any{"base_tree": headCommit.Tree.SHA, "tree": entries}
	if err := c.call(ctx, "tree.create", http.MethodPost, c.repoURL("git/trees"), treeReq, &tree); err != nil {
		return "", err
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitReq := map[string]any{"message": message, "tree": tree.SHA, "parents": []string{head}}
	if err := c.call(ctx, "commit.create", http.MethodPost, c.repoURL("git/commits"), commitReq, &commit); err != nil {
		return "", err
	}

	update := map[string]any{"sha": commit.SHA, "force": false}
	if err := c.call(ctx, "ref.update", http.MethodPatch, c.repoURL("git/refs/"+refPath), update, nil); err != nil {
		return "", err
	}

	log.Info().Str("branch", branch).Str("commit", commit.SHA).Str("parent", head).Int("files", len(files)).
		Msg("Commit created")
	return commit.SHA, nil
}

// call sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) call(ctx context.Context, op, method, endpoint string, in, out any) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", apiVersion)
	header.Set("User-Agent", "avku-reports-bot")

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("github %s: marshal: %w", op, err)
		}
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, &httpretry.Request{
		Op:     "github." + op,
		Method: method,
		URL:    endpoint,
		Header: header,
		Body:   body,
	}, c.policy)
	if err != nil {
		return err
	}
	if !resp.OK() {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = truncate(string(resp.Body), 300)
		}
		return &APIError{Op: op, Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("github %s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) repoURL(suffix string) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), suffix)
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// decodeBase64 tolerates the line breaks GitHub inserts every 60 characters.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
