package orchestrator

import (
	"fmt"
	"time"
)

const defaultRole = "You are a helpful task management assistant. You help the user stay organized and remember what matters to them."

const systemTemplate = `%s

You have long-term memory which keeps track of three things:
1. The user's profile (general information about them)
2. The user's ToDo list
3. General instructions for how to update the ToDo list

Here is the current user profile (may be empty if no information has been collected yet):
<user_profile>
%s
</user_profile>

Here is the current ToDo list (may be empty if no tasks have been added yet):
<todo>
%s
</todo>

Here are the current user-specified preferences for managing the list (may be empty):
<instructions>
%s
</instructions>

When the conversation reveals something worth remembering, call the update_memory tool with the matching update_type: "user" for personal information, "todo" for tasks, "instructions" for list-management preferences. Call it at most once per reply. Otherwise answer naturally using what you remember.`

func systemPrompt(role, profile, todos, instructions string) string {
	return fmt.Sprintf(systemTemplate, role, profile, todos, instructions)
}

const reconcileTemplate = `Reflect on the conversation below. Use the provided tool to retain any necessary memories about the user. Use parallel tool calling to handle updates and insertions simultaneously. When a record you emit revises an existing one, set json_doc_id to that record's key; leave it unset for new records.

System time: %s`

func reconcileInstruction(now time.Time) string {
	return fmt.Sprintf(reconcileTemplate, now.Format(time.RFC3339))
}

const instructionsTemplate = `Based on the conversation, update your instructions for how to manage the user's ToDo list. Produce the full replacement text; whatever you answer overwrites the previous instructions entirely.

Current instructions:
<current_instructions>
%s
</current_instructions>`

func instructionsPrompt(current string) string {
	return fmt.Sprintf(instructionsTemplate, current)
}

// instructionsNudge closes the instructions-node prompt, mirroring the
// fixed request the conversation is asked to act on.
const instructionsNudge = "Please update the instructions based on the conversation."
