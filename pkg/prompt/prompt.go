// Package prompt assembles the system message from a typed configuration.
// Assembly is deterministic: identical inputs produce identical output,
// except the datetime section which reads the injected clock.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config describes the structured system prompt.
type Config struct {
	Name                  string   `yaml:"name,omitempty"`
	Description           string   `yaml:"description,omitempty"`
	Role                  string   `yaml:"role,omitempty"`
	Instructions          []string `yaml:"instructions,omitempty"`
	ExpectedOutput        string   `yaml:"expected_output,omitempty"`
	Markdown              bool     `yaml:"markdown,omitempty"`
	AddDatetime           bool     `yaml:"add_datetime,omitempty"`
	AddWorkspace          bool     `yaml:"add_workspace_info,omitempty"`
	Timezone              string   `yaml:"timezone,omitempty"`
	AdditionalContext     string   `yaml:"additional_context,omitempty"`
	AdditionalInformation []string `yaml:"additional_information,omitempty"`

	// CustomSections render as <tag>content</tag> blocks. SectionOrder
	// preserves insertion order; map iteration alone is not deterministic.
	CustomSections map[string]string `yaml:"custom_sections,omitempty"`
	SectionOrder   []string          `yaml:"-"`
}

// customSectionTags returns the section tags in insertion order, falling
// back to sorted order for configs decoded from YAML (which carry no
// recorded insertion order).
func (c *Config) customSectionTags() []string {
	if len(c.SectionOrder) > 0 {
		return c.SectionOrder
	}
	tags := make([]string, 0, len(c.CustomSections))
	for tag := range c.CustomSections {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// AddCustomSection appends a custom section, preserving insertion order.
func (c *Config) AddCustomSection(tag, content string) {
	if c.CustomSections == nil {
		c.CustomSections = make(map[string]string)
	}
	if _, exists := c.CustomSections[tag]; !exists {
		c.SectionOrder = append(c.SectionOrder, tag)
	}
	c.CustomSections[tag] = content
}

// SkillEntry is the one-line catalog entry listed under Available Skills.
type SkillEntry struct {
	Name        string
	Description string
}

// Env carries the environmental facts the assembler may embed.
type Env struct {
	WorkspaceDir string
	// Clock defaults to time.Now; tests inject a fixed clock.
	Clock func() time.Time
}

// Build composes the system message. Sections appear in a fixed order and
// are joined by blank lines; empty sections are omitted.
func Build(cfg Config, toolInstructions []string, skillIndex []SkillEntry, env Env) string {
	var sections []string

	if cfg.Name != "" {
		sections = append(sections, fmt.Sprintf("# %s\n", cfg.Name))
	}

	if cfg.Description != "" {
		sections = append(sections, cfg.Description)
	}

	if cfg.Role != "" {
		sections = append(sections, fmt.Sprintf("<your_role>\n%s\n</your_role>", cfg.Role))
	}

	if len(cfg.Instructions) > 0 {
		sections = append(sections, buildInstructions(cfg.Instructions))
	}

	if cfg.Markdown {
		sections = append(sections, markdownSection)
	}

	if len(toolInstructions) > 0 {
		sections = append(sections, buildToolInstructions(toolInstructions))
	}

	if len(skillIndex) > 0 {
		sections = append(sections, buildSkillIndex(skillIndex))
	}

	if cfg.ExpectedOutput != "" {
		sections = append(sections, fmt.Sprintf("<expected_output>\n%s\n</expected_output>", strings.TrimSpace(cfg.ExpectedOutput)))
	}

	if cfg.AddWorkspace && env.WorkspaceDir != "" {
		sections = append(sections, buildWorkspace(env.WorkspaceDir))
	}

	if cfg.AddDatetime {
		sections = append(sections, buildDatetime(cfg.Timezone, env.Clock))
	}

	if len(cfg.AdditionalInformation) > 0 {
		sections = append(sections, buildAdditionalInfo(cfg.AdditionalInformation))
	}

	for _, tag := range cfg.customSectionTags() {
		content, ok := cfg.CustomSections[tag]
		if !ok {
			continue
		}
		sections = append(sections, fmt.Sprintf("<%s>\n%s\n</%s>", tag, content, tag))
	}

	if cfg.AdditionalContext != "" {
		sections = append(sections, cfg.AdditionalContext)
	}

	return strings.Join(sections, "\n\n")
}

const markdownSection = "<output_format>\n" +
	"Use markdown formatting to improve readability:\n" +
	"- Use headers (##, ###) to organize sections\n" +
	"- Use bullet points and numbered lists\n" +
	"- Use code blocks for code snippets\n" +
	"- Use **bold** for emphasis\n" +
	"</output_format>"

func buildInstructions(instructions []string) string {
	var sb strings.Builder
	sb.WriteString("<instructions>")
	if len(instructions) == 1 {
		sb.WriteString("\n" + instructions[0])
	} else {
		for _, instruction := range instructions {
			sb.WriteString("\n- " + instruction)
		}
	}
	sb.WriteString("\n</instructions>")
	return sb.String()
}

func buildToolInstructions(toolInstructions []string) string {
	var sb strings.Builder
	sb.WriteString("<tool_usage_guidelines>")
	for _, instruction := range toolInstructions {
		sb.WriteString("\n" + instruction)
	}
	sb.WriteString("\n</tool_usage_guidelines>")
	return sb.String()
}

func buildSkillIndex(skills []SkillEntry) string {
	var sb strings.Builder
	sb.WriteString("## Available Skills\n")
	for _, skill := range skills {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", skill.Name, skill.Description))
	}
	sb.WriteString("\nCall the `get_skill` tool with a skill name to load its full content before using it.")
	return sb.String()
}

func buildWorkspace(workspaceDir string) string {
	return "<workspace_info>\n" +
		fmt.Sprintf("Current working directory: `%s`\n", workspaceDir) +
		"All relative file paths are resolved relative to this directory.\n" +
		"</workspace_info>"
}

func buildDatetime(timezone string, clock func() time.Time) string {
	if clock == nil {
		clock = time.Now
	}
	now := clock()

	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			now = now.In(loc)
		}
	}

	return fmt.Sprintf("<current_datetime>\n%s\n</current_datetime>", now.Format("2006-01-02 15:04:05 MST"))
}

func buildAdditionalInfo(info []string) string {
	var sb strings.Builder
	sb.WriteString("<additional_information>")
	for _, item := range info {
		sb.WriteString("\n- " + item)
	}
	sb.WriteString("\n</additional_information>")
	return sb.String()
}
