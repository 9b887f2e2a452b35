package analysis

import "strings"

const systemPrompt = "You analyze meeting transcripts. Reply with a single JSON object and nothing else."

const promptTemplate = `Analyze this meeting transcript.

TRANSCRIPT:
{{transcript}}

Extract the following (JSON format):
{
  "summary": "2-3 sentence overview",
  "action_items": [
    {"task": "...", "owner": "...", "deadline": "..."}
  ],
  "key_decisions": ["decision 1", "decision 2"],
  "topics_discussed": ["topic 1", "topic 2"],
  "next_steps": ["step 1", "step 2"]
}
`

func buildPrompt(transcript string) string {
	return strings.Replace(promptTemplate, "{{transcript}}", transcript, 1)
}
