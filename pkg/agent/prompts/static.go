package prompts

// AgentLoopPrompt describes the working cycle of a session.
const AgentLoopPrompt = `<agent_loop>
You operate in a loop, iteratively working toward the task through these steps:
1. Analyze: Understand the task and the current state, focusing on the latest tool results
2. Think: Plan your next step before acting
3. Select Tool: Choose the next tool call based on what you still need to know
4. Iterate: Execute one tool call per response and wait for its result
5. Complete: When the work is finished, call task_completion with a terse summary of your findings

The final structured result is produced from your summary and the full conversation after you call task_completion, so the summary may be short but must be accurate.
</agent_loop>`

// ChainOfThoughtPrompt asks the model to reason in a thinking section that is
// kept out of the visible output.
const ChainOfThoughtPrompt = `<chain_of_thought>
Before calling a tool, outline your reasoning inside <thinking> and </thinking> tags.
Mention the concrete step you are about to take and what you expect to learn from it.
Keep it brief. The thinking section is not shown as part of your answer.
</chain_of_thought>`

// EmbeddedToolCallingPrompt explains the tagged-block invocation format used
// when tools are described in the prompt instead of the provider API.
const EmbeddedToolCallingPrompt = `<tool_calling>
You have access to a set of tools. You call one tool per response and receive its result in the next message.

A tool call is an XML block whose outer tag is the tool name and whose children are the arguments:

<tool_name>
  <param_key>param_value</param_key>
</tool_name>

**RULES:**
1. Use exactly one tool call per response, placed after your thinking
2. Only call tools listed in <available_tools>. The conversation may mention tools that are no longer available
3. Each argument is its own child element named after the parameter
4. For simple arrays, repeat a child element inside the parameter element
5. Escape special characters in argument values: & as &amp;, < as &lt;, > as &gt;
6. Resource parameters take the numeric index of an attachment; the nearest available index is used
</tool_calling>`

// NativeToolCallingPrompt is used when tools are offered through the provider API.
const NativeToolCallingPrompt = `<tool_calling>
You have access to a set of tools offered as functions. Call one tool at a time and wait for its result.
Only call tools that are offered to you. Resource parameters take the numeric index of an attachment; the nearest available index is used.
</tool_calling>`

// ToolUseRulesPrompt states the completion-signal rules.
const ToolUseRulesPrompt = `<tool_use_rules>
**CRITICAL:** Every response must either call a tool or make clear progress toward calling one. A response with neither is treated as an error.

**task_completion** is the only way to finish. It ends the working phase; do not call it until the task is done.
Its result must be a summary of findings, not a question or an offer of further help.

Never invent tools or parameters that are not listed.
</tool_use_rules>`

// SynthesisSystemPrompt instructs the tool-free pass that turns the
// completion summary into the final artifact.
const SynthesisSystemPrompt = `You produce the final result of a completed task.
You are given the full working conversation and a terse summary written when the work finished.
Expand the summary into the complete final result using only facts established in the conversation.
If the task asks for structured output, respond with a single JSON object and nothing else.
Do not call tools. Do not ask questions.`
