// Package questiongen turns segment transcripts into multiple-choice quiz
// questions through the OpenAI chat API.
package questiongen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Generated is one question produced from a transcript.
type Generated struct {
	Question    string   `json:"question"`
	Correct     string   `json:"correct_answer"`
	FakeAnswers []string `json:"fake_answers"`
}

// Generator asks a chat model for quiz questions. Transcripts with fewer
// than 30 words yield no questions rather than an error.
type Generator struct {
	client *openai.Client
	model  string
	sleep  func(time.Duration)
}

// New builds a generator for the given API key and model.
func New(apiKey, model string) *Generator {
	config := openai.DefaultConfig(apiKey)
	return NewWithConfig(config, model)
}

// NewWithConfig builds a generator from an explicit client config; tests use
// it to point at a stub server.
func NewWithConfig(config openai.ClientConfig, model string) *Generator {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	return &Generator{
		client: openai.NewClientWithConfig(config),
		model:  model,
		sleep:  time.Sleep,
	}
}

const systemPrompt = `You write quiz questions about a live presentation.
From the transcript you receive, produce multiple-choice questions that the
audience can answer from what the presenter actually said. Respond with a
JSON array only. Each element has "question", "correct_answer", and
"fake_answers" (a list of plausible wrong answers). Keep answers short.`

// Generate asks for up to count questions with fakeAnswers wrong choices
// each. It retries transient API failures with backoff.
func (g *Generator) Generate(ctx context.Context, transcript string, count, fakeAnswers int) ([]Generated, error) {
	if len(strings.Fields(transcript)) < 30 {
		return nil, nil
	}
	if count <= 0 {
		count = 5
	}
	if fakeAnswers <= 0 {
		fakeAnswers = 3
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Write %d questions with %d wrong answers each for this transcript:\n\n%s",
					count, fakeAnswers, transcript),
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, nil
			}
			return parseQuestions(resp.Choices[0].Message.Content, count)
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			g.sleep(backoff[attempt])
		}
	}

	return nil, fmt.Errorf("question generation failed after retries: %w", lastErr)
}

// parseQuestions extracts the JSON array from the model reply, tolerating
// markdown fences around it.
func parseQuestions(content string, max int) ([]Generated, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model reply contains no question array")
	}

	var questions []Generated
	if err := json.Unmarshal([]byte(content[start:end+1]), &questions); err != nil {
		return nil, fmt.Errorf("parse generated questions: %w", err)
	}

	valid := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Correct) == "" {
			continue
		}
		valid = append(valid, q)
	}
	if max > 0 && len(valid) > max {
		valid = valid[:max]
	}
	return valid, nil
}
