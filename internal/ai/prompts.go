package ai

import "fmt"

const systemPrompt = `You are a code analysis engine. You extract structured
facts about source code and answer strictly in the requested tag format,
with no commentary outside the tags.`

const verifyPromptFmt = `<task>Verify an extracted code element</task>

<extracted>
Type: %s
Name: %s
Lines: %d-%d
Properties: %s
</extracted>

<source_context>
%s
</source_context>

<instructions>
Check the extracted element against the source context:
1. Is the type correct?
2. Is the name correct?
3. Is the line range correct?
4. Are the properties correct?
Answer verified when everything is right, corrected when fixable fields
are wrong, rejected when the element does not exist in the source.
</instructions>

<response_format>
<verification>
  <status>verified|corrected|rejected</status>
  <confidence>0.0-1.0</confidence>
  <corrections>
    <field name="..." original="..." corrected="..." />
  </corrections>
  <reason>one sentence</reason>
</verification>
</response_format>`

const discoverPromptFmt = `<task>Discover code structure</task>

<file>
Path: %s
Language: %s
</file>

<content>
%s
</content>

<instructions>
Extract every class, interface, function, method, API endpoint, queue,
topic, database table or model, and configuration key in this file, with
the relationships between them. Line numbers are 1-based and inclusive.
Edge endpoints name elements from this file where possible.
If you recognize a framework whose constructs a regex could extract,
include one suggestion per construct.
</instructions>

<response_format>
<discovery>
  <node type="Class" name="..." start_line="1" end_line="1" confidence="0.9">
    <property name="..." value="..." />
  </node>
  <edge type="CALLS" from="..." to="..." confidence="0.9" />
  <suggestion framework="..." pattern="..." node_type="Class">
    <regex>a Go-compatible regex with named capture groups</regex>
  </suggestion>
</discovery>
</response_format>`

const generateSchemaPromptFmt = `<task>Generate an extraction schema for %s</task>

<observed_constructs>
%s
</observed_constructs>

<instructions>
Write a complete extraction schema as a single JSON object with fields
name, language, version, description, detection (imports, filenames,
contents, confidence_boost) and extractors (map of extractor name to
pattern list; each pattern has name, regex, captures, node and optional
edge). Regexes must use Go RE2 syntax with named capture groups and work
in multiline mode. Cover classes with inheritance, functions and methods,
imports, and the observed framework constructs.
</instructions>

<response_format>
A single fenced json block containing only the schema object.
</response_format>`

const evolvePromptFmt = `<task>Improve an extraction pattern from observed corrections</task>

<schema>%s</schema>
<pattern>%s</pattern>

<current_regex>
%s
</current_regex>

<corrections>
%s
</corrections>

<instructions>
The current regex produced the corrections above. Propose a minimally
changed Go RE2 regex that fixes them without breaking matches that were
already correct.
</instructions>

<response_format>
<evolution>
  <new_regex>improved regex</new_regex>
  <confidence>0.0-1.0</confidence>
  <reason>one sentence</reason>
</evolution>
</response_format>`

func verifyPrompt(nodeType, name string, startLine, endLine int, properties, context string) string {
	return fmt.Sprintf(verifyPromptFmt, nodeType, name, startLine, endLine, properties, context)
}

func discoverPrompt(path, language, content string) string {
	return fmt.Sprintf(discoverPromptFmt, path, language, content)
}

// GenerateSchemaPrompt builds the schema-generation request body from
// accumulated discovery suggestions.
func GenerateSchemaPrompt(language, observed string) string {
	return fmt.Sprintf(generateSchemaPromptFmt, language, observed)
}

// EvolvePrompt builds the pattern-improvement request body.
func EvolvePrompt(schemaName, patternName, currentRegex, corrections string) string {
	return fmt.Sprintf(evolvePromptFmt, schemaName, patternName, currentRegex, corrections)
}
