package enrich

// Stage prompts live here so they are easy to tweak without hunting through
// call sites. Each instructs the model to answer with a single JSON object
// matching the stage's result schema.

const summarizePrompt = `You are an assistant that summarizes documents for a processing pipeline.

Produce a concise summary of the document below and extract its most important keywords.

You must respond ONLY with a JSON object like: {"summary": "two or three sentences", "keywords": ["keyword", "another"]}

Rules:

- The summary must be at most three sentences and must not copy long passages verbatim.

- Provide between one and ten keywords, each a short lowercase phrase.

Now summarize this document:`

const classifyPrompt = `You are an assistant that assigns a category to a document using its summary.

Available categories:

- "news": reporting on current events.

- "technical": documentation, engineering discussion, or scientific material.

- "correspondence": letters, email threads, or direct messages.

- "legal": contracts, policies, or regulatory text.

- "other": anything that fits none of the above.

You must respond ONLY with a JSON object like: {"category": "technical", "confidence": 0.9, "reason": "short explanation"}

Most documents fit one category clearly; use "other" only when nothing else applies.

Now classify this document:`

const actionsPrompt = `You are an assistant that extracts action items from a document using its summary.

An action item is a concrete task someone is expected to do. Do not invent tasks that are not stated or clearly implied.

You must respond ONLY with a JSON object like: {"actions": [{"description": "short imperative sentence", "priority": "high"}]}

Rules:

- priority must be one of "high", "medium", or "low".

- Return {"actions": []} when the document contains no action items.

Now extract action items from this document:`

// strictAddendum tightens the instructions for the one retry a schema
// violation earns before dead-lettering.
const strictAddendum = `

IMPORTANT: your previous response was not valid JSON for the required schema. Respond with exactly one JSON object matching the schema above. No prose, no code fences, no additional keys.`
