// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nurture-engine/pkg/registry"
)

var registryPath = "configs/templates.json"

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	// Add command flags
	nameAdd := addCmd.String("name", "", "Template name (snake_case, e.g. pricing_followup)")
	channel := addCmd.String("channel", "email", "Delivery channel (email, slack, log)")
	subject := addCmd.String("subject", "", "Subject line (email channel)")
	body := addCmd.String("body", "", "Message body with {placeholder} variables")
	industry := addCmd.String("industry", "", "Industry hint for template ranking")
	tags := addCmd.String("tags", "", "Comma-separated tags")

	// Update command flags
	nameUpdate := updateCmd.String("name", "", "Template name to update")
	field := updateCmd.String("field", "", "Field to update (subject, body, channel, industry, tags)")
	value := updateCmd.String("value", "", "New value for the field")

	for _, cmd := range []*flag.FlagSet{addCmd, updateCmd, validateCmd, listCmd} {
		cmd.StringVar(&registryPath, "path", registryPath, "Path to registry file")
	}

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *nameAdd == "" || *body == "" {
			fmt.Println("Error: name and body are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		entry := registry.TemplateEntry{
			Name:     *nameAdd,
			Channel:  *channel,
			Subject:  *subject,
			Body:     *body,
			Industry: *industry,
			Tags:     splitTags(*tags),
		}
		if err := addTemplate(&entry); err != nil {
			fmt.Printf("Error adding template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added template: %s\n", *nameAdd)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *nameUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: name, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateTemplate(*nameUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated template %s, field %s\n", *nameUpdate, *field)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateTemplates(); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}

	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listTemplates(); err != nil {
			fmt.Printf("Error listing templates: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func splitTags(raw string) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func addTemplate(entry *registry.TemplateEntry) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		// If file doesn't exist, create new registry
		if os.IsNotExist(err) {
			reg = &registry.TemplateRegistry{
				Version:     "1.0.0",
				LastUpdated: time.Now().UTC().Format(time.RFC3339),
				Templates:   []registry.TemplateEntry{},
			}
		} else {
			return fmt.Errorf("failed to load registry: %w", err)
		}
	}

	// Check if template already exists
	for _, existing := range reg.Templates {
		if existing.Name == entry.Name {
			return fmt.Errorf("template with name %s already exists", entry.Name)
		}
	}

	reg.Templates = append(reg.Templates, *entry)
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	// Validate before save. A fresh registry must add the generic fallback
	// template first.
	if err := reg.Validate(); err != nil {
		return err
	}
	return saveRegistry(reg, registryPath)
}

func updateTemplate(name, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	found := false
	for i := range reg.Templates {
		if reg.Templates[i].Name == name {
			found = true
			switch field {
			case "subject":
				reg.Templates[i].Subject = value
			case "body":
				reg.Templates[i].Body = value
			case "channel":
				reg.Templates[i].Channel = value
			case "industry":
				reg.Templates[i].Industry = value
			case "tags":
				reg.Templates[i].Tags = splitTags(value)
			default:
				return fmt.Errorf("unknown field: %s", field)
			}
			break
		}
	}

	if !found {
		return fmt.Errorf("template with name %s not found", name)
	}

	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	if err := reg.Validate(); err != nil {
		return err
	}
	return saveRegistry(reg, registryPath)
}

func validateTemplates() error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	if err := reg.Validate(); err != nil {
		return err
	}

	fmt.Printf("Registry validation passed. Found %d templates.\n", len(reg.Templates))
	return nil
}

func listTemplates() error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	for _, entry := range reg.Templates {
		fmt.Printf("%-24s %-6s %s\n", entry.Name, entry.Channel, entry.Subject)
	}
	fmt.Printf("%d templates in %s\n", len(reg.Templates), registryPath)
	return nil
}

// saveRegistry handles saving the registry to file
func saveRegistry(reg *registry.TemplateRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}

	return nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  add      Add a new template to the registry
  update   Update an existing template's field
  validate Validate the registry file
  list     List registered templates
  help     Show this help message

Examples:
  registry-updater add -name pricing_followup -subject "Quick question about {company_name}" -body "Hi {first_name}, ..." -tags pricing,followup
  registry-updater update -name pricing_followup -field subject -value "One more thought for {company_name}"
  registry-updater validate -path configs/templates.json

Use 'registry-updater <command> -h' for more information about a command.

`)
}
