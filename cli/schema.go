package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

// SchemaCmd returns the schema command.
func SchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for scenario files",
		RunE:  handleSchemaCmd,
	}
	cmd.Flags().String("out", "", "Write the schema to a file instead of stdout")
	return cmd
}

func handleSchemaCmd(cmd *cobra.Command, _ []string) error {
	data, err := ScenarioSchema()
	if err != nil {
		return err
	}
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return fmt.Errorf("failed to get out flag: %w", err)
	}
	if out != "" {
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return fmt.Errorf("failed to write schema to %s: %w", out, err)
		}
		return nil
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	return nil
}

// ScenarioSchema reflects the scenario format into a draft-07 JSON Schema.
func ScenarioSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  false,
		DoNotReference:             false,
		BaseSchemaID:               "http://json-schema.org/draft-07/schema#",
	}
	schema := reflector.Reflect(&Scenario{})
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Title = "Resily Scenario"
	schema.Description = "Scripted task scenario executed by the run command"
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario schema: %w", err)
	}
	return append(data, '\n'), nil
}
