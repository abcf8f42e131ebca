package events

import (
	"fmt"
	"strings"
)

// MessageTemplateEngine provides dynamic message generation for events.
type MessageTemplateEngine struct {
	templates map[Kind]string
}

// NewMessageTemplateEngine creates a template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		templates: make(map[Kind]string),
	}
	engine.loadDefaultTemplates()
	return engine
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	e.templates[KindDriftCorrected] = "Usage plan {{.Identity}} ({{.Name}}) drift corrected: {{.Detail}}"
	e.templates[KindCorrectionFailed] = "Usage plan {{.Identity}} ({{.Name}}) correction failed: {{.Error}}"
	e.templates[KindUnmanagedDetected] = "Unmanaged usage plan {{.Identity}} ({{.Name}}) detected{{.Detail}}"
	e.templates[KindManagedPlanDeleted] = "Managed usage plan {{.Identity}} ({{.Name}}) was deleted from the gateway"
	e.templates[KindPlanDeprecated] = "Usage plan {{.Identity}} deprecated"
	e.templates[KindPlanDeletedPending] = "Usage plan {{.Identity}} ({{.Name}}) was deleted and will be recreated"
	e.templates[KindPlanDeletedRecovered] = "Usage plan {{.Identity}} ({{.Name}}) was deleted and has been recreated with ID {{.NewIdentity}}"
}

// Render generates a message for the given event kind and data.
func (e *MessageTemplateEngine) Render(kind Kind, data Data) string {
	template, exists := e.templates[kind]
	if !exists {
		return fmt.Sprintf("Event: %s for %s", string(kind), data.Identity)
	}
	return e.renderTemplate(template, data)
}

// SetTemplate allows customizing the message template for a specific kind.
func (e *MessageTemplateEngine) SetTemplate(kind Kind, template string) {
	e.templates[kind] = template
}

// GetTemplate returns the template for a specific event kind.
func (e *MessageTemplateEngine) GetTemplate(kind Kind) (string, bool) {
	template, exists := e.templates[kind]
	return template, exists
}

// renderTemplate performs simple variable substitution with Data.
func (e *MessageTemplateEngine) renderTemplate(template string, data Data) string {
	result := template
	result = strings.ReplaceAll(result, "{{.Identity}}", data.Identity)
	result = strings.ReplaceAll(result, "{{.Name}}", data.Name)
	result = strings.ReplaceAll(result, "{{.NewIdentity}}", data.NewIdentity)
	result = strings.ReplaceAll(result, "{{.Error}}", data.Error)
	result = strings.ReplaceAll(result, "{{.Detail}}", data.Detail)
	return strings.TrimSpace(result)
}
