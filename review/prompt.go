package review

import (
	"fmt"

	"taskagent-backend/core/bounty"
)

const promptTemplate = `You are an expert task reviewer. Review the following task submission:

Task Description: %s

Submission File: %s

Submission Content:
%s

Please provide a detailed review covering:
1. Code Quality and Structure
2. Functionality and Requirements
3. Best Practices
4. Security Considerations
5. Performance
6. Overall Assessment

Be lenient in your evaluation - if the work generally matches the requirements,
even if there are minor differences in formatting or additional details, it
should be accepted. Only reject if there are significant mismatches with the
core requirements.

Respond with ONLY a JSON object in exactly this structure, with no text before
or after it:
{
  "codeQuality": { "score": number, "feedback": string },
  "functionality": { "score": number, "feedback": string },
  "bestPractices": { "score": number, "feedback": string },
  "security": { "score": number, "feedback": string },
  "performance": { "score": number, "feedback": string },
  "overallAssessment": { "score": number, "feedback": string },
  "overallStatus": "accepted" or "rejected"
}`

// BuildPrompt embeds the task description and the fetched submission text
// into the review prompt. The leniency instruction is aimed at the model;
// the pipeline itself applies none.
func BuildPrompt(taskDescription string, sub bounty.Submission) string {
	return fmt.Sprintf(promptTemplate, taskDescription, sub.FileName, sub.RawContent)
}
