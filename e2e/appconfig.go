package e2e

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it. Also using
// YAML/JSON-compatible types only here.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	RelayAddress string
	Password     string
	StorageDir   string
	BodyTemplate string
	Attachments  []string
}

// createAppConfig writes a configuration YAML doc to the given path.
// Use this configuration to run a send cycle in the e2e test environment
func createAppConfig(path string, opts appConfigOptions) error {
	configTemplate := `---
relay:
    relayAddress: {{ .RelayAddress }}
    username: myuser123@example.com
    password: {{ .Password }}
    fromAddress: mynewsletter@example.com
    timeout: 2s
    skipCertVerification: true
message:
    to:
      - recipient@example.com
    cc:
      - cc@example.com
    bcc:
      - bcc@example.com
    replyTo: replies@example.com
    subject: The latest from relaymail
{{- if .BodyTemplate }}
    bodyTemplate: {{ .BodyTemplate }}
    templateData:
        name: Reader
        items:
          - first
          - second
{{- else }}
    body: <p>Hello from relaymail</p>
{{- end }}
{{- if .Attachments }}
    attachments:
{{- range .Attachments }}
      - {{ . }}
{{- end }}
{{- end }}
    maxAttachmentSize: 1MiB
{{- if .StorageDir }}
storage:
    storageDir: {{ .StorageDir }}
    keyTTL: "168h"
{{- end }}
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	err = os.WriteFile(path, config.Bytes(), 0600)
	if err != nil {
		return fmt.Errorf("couldn't write to the config file: %v", err)
	}

	return nil

}
