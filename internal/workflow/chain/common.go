package chain

import workflowprompt "finqa-api/internal/workflow/prompt"

var qaPromptRegistry = workflowprompt.NewRegistry()

const maxResultJSONRunes = 8000
