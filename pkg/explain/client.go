package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gitrewind/platform/pkg/common/httpclient"
)

const commitPrompt = `You are explaining a software project's history to a developer replaying it commit by commit.
Repository: %s
Commit message:
%s
Files touched: %s

In two or three sentences, explain what this commit most likely does and why it matters in the project's evolution.`

// Client calls an OpenAI-compatible chat completions endpoint to
// produce commit explanations. It is an optional collaborator; the
// ingestion pipeline never depends on it.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    httpclient.New(timeout),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ExplainCommit produces a short natural-language explanation of one
// commit. Transient transport failures are retried a couple of times
// before surfacing.
func (c *Client) ExplainCommit(ctx context.Context, repoName, message string, files []string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("explanation client not configured")
	}

	fileList := strings.Join(files, ", ")
	if len(fileList) > 2000 {
		fileList = fileList[:2000] + "…"
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(commitPrompt, repoName, message, fileList)},
		},
	})
	if err != nil {
		return "", err
	}

	var explanation string
	err = httpclient.Retry(ctx, 3, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, string(payload))
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return err
		}
		if len(parsed.Choices) == 0 {
			return errors.New("llm endpoint returned no choices")
		}
		explanation = strings.TrimSpace(parsed.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return explanation, nil
}
