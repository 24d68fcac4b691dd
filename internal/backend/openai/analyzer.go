// ABOUTME: Narrative analyzer backed by Azure OpenAI chat completions.
// ABOUTME: Prompts the model per file and parses its JSON security assessment.

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/malpack/malscan/internal/types"

	"github.com/sirupsen/logrus"
)

// Prompt content sent per analyzed file. The model is instructed to answer
// with bare JSON so the response can be unmarshalled directly.
const securityPrompt = `You are a cybersecurity expert specialized in detecting malicious Python packages.
Analyze the following Python source code for malicious behavior.

Look for indicators such as:
- Unauthorized data exfiltration (sending data to external servers, environment variable theft)
- Backdoors or remote access (reverse shells, command-and-control communication)
- Credential theft (accessing keychains, password files, browser stored passwords)
- Persistence mechanisms (modifying startup files, cron jobs, registry modifications)
- Supply chain attacks (typosquatting, dependency confusion payloads)
- Obfuscation techniques (base64 encoded payloads, eval of dynamic strings, hex shellcode)
- Cryptomining or ransomware patterns
- Suspicious process execution (os.system, subprocess with external URLs)
- Suspicious network connections to known malicious patterns

File: %s

` + "```python\n%s\n```" + `

Respond ONLY with a valid JSON object in this exact format (no markdown, no code blocks):
{
  "is_malicious": true or false,
  "confidence": "HIGH" or "MEDIUM" or "LOW",
  "indicators": ["indicator 1", "indicator 2"],
  "summary": "Brief explanation of findings or why it appears safe"
}`

const suggestPrompt = `You are a Python ecosystem expert.
The user wanted to install the pip package '%s', but it was detected as MALICIOUS or UNSAFE.
Can you suggest 3 safe, popular, and well-maintained alternative packages that provide similar functionality to what '%s' is typically used for (or might be typosquatting)?

Respond ONLY with a valid JSON object in this exact format (no markdown, no blocks):
{
  "alternatives": [
    {"name": "package1", "reason": "brief reason why it's a good alternative"},
    {"name": "package2", "reason": "..."},
    {"name": "package3", "reason": "..."}
  ]
}`

// Analysis content is capped to stay within token limits
const maxContentChars = 8000

// Analyzer implements backend.NarrativeAnalyzer on Azure OpenAI
type Analyzer struct {
	client       *azopenai.Client
	deploymentID string
	logger       *logrus.Logger
}

// NewAnalyzer creates a narrative analyzer against an Azure OpenAI deployment
func NewAnalyzer(endpoint, apiKey, deploymentID string, logger *logrus.Logger) (*Analyzer, error) {
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure OpenAI client: %w", err)
	}
	return &Analyzer{
		client:       client,
		deploymentID: deploymentID,
		logger:       logger,
	}, nil
}

// Name returns the analyzer name
func (a *Analyzer) Name() string {
	return "azure-openai"
}

type modelAssessment struct {
	Malicious  bool     `json:"is_malicious"`
	Confidence string   `json:"confidence"`
	Indicators []string `json:"indicators"`
	Summary    string   `json:"summary"`
}

// AnalyzeFileNarrative sends one file to the model and parses its assessment
func (a *Analyzer) AnalyzeFileNarrative(ctx context.Context, path, content string) (*types.NarrativeOutcome, error) {
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	text, err := a.complete(ctx, fmt.Sprintf(securityPrompt, path, content))
	if err != nil {
		return nil, fmt.Errorf("narrative analysis of %s failed: %w", path, classifyAzureError(err))
	}

	var assessment modelAssessment
	if err := json.Unmarshal([]byte(stripFences(text)), &assessment); err != nil {
		return nil, fmt.Errorf("model returned unparseable assessment for %s: %w", path, err)
	}

	return &types.NarrativeOutcome{
		File:       path,
		Malicious:  assessment.Malicious,
		Confidence: assessment.Confidence,
		Indicators: assessment.Indicators,
		Summary:    assessment.Summary,
	}, nil
}

// SuggestAlternatives asks the model for safe replacement packages
func (a *Analyzer) SuggestAlternatives(ctx context.Context, packageName string) ([]types.Alternative, error) {
	text, err := a.complete(ctx, fmt.Sprintf(suggestPrompt, packageName, packageName))
	if err != nil {
		return nil, fmt.Errorf("alternative suggestion for %s failed: %w", packageName, classifyAzureError(err))
	}

	var parsed struct {
		Alternatives []types.Alternative `json:"alternatives"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err != nil {
		return nil, fmt.Errorf("model returned unparseable alternatives: %w", err)
	}
	return parsed.Alternatives, nil
}

func (a *Analyzer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(a.deploymentID),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(prompt),
				},
			},
		},
		nil,
	)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", errors.New("no completion received from model")
}

// stripFences removes markdown code fences some models wrap around JSON
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[1 : len(lines)-1]
		} else {
			lines = lines[1:]
		}
		text = strings.Join(lines, "\n")
	}
	return strings.TrimPrefix(text, "json\n")
}

// classifyAzureError maps Azure SDK response errors onto the sentinel errors
// so callers surface a specific remediation
func classifyAzureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusTooManyRequests:
			return types.ErrQuotaExhausted
		case http.StatusUnauthorized, http.StatusForbidden:
			return types.ErrAuthFailure
		}
	}
	return err
}
