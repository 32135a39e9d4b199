package executor

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"

	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// mainContainer is the single container every task runs in. Logs are
// pulled from it by this name.
const mainContainer = "main"

// serviceSpec mirrors the job-service specification document the compute
// layer consumes.
type serviceSpec struct {
	Spec specBody `yaml:"spec"`
}

type specBody struct {
	Containers []containerSpec `yaml:"containers"`
	Volumes    []volumeSpec    `yaml:"volumes,omitempty"`
}

type containerSpec struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Command      []string          `yaml:"command,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	VolumeMounts []volumeMount     `yaml:"volumeMounts,omitempty"`
}

type volumeMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
}

type volumeSpec struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// renderSpec turns a JobSpec into the YAML specification document. Every
// stage mount becomes a volume sourced from the stage plus a mount into
// the main container.
func renderSpec(job types.JobSpec) (string, error) {
	if job.Image == "" {
		return "", perrors.New(perrors.ErrCodeIllegalArgument, "job image cannot be empty").
			WithComponent("executor").
			WithDetail("job", job.Name)
	}

	container := containerSpec{
		Name:    mainContainer,
		Image:   job.Image,
		Command: job.Command,
		Env:     job.Env,
	}

	body := specBody{}
	for i, m := range job.Mounts {
		if m.Stage == "" || !strings.HasPrefix(m.MountPath, "/") {
			return "", perrors.Newf(perrors.ErrCodeIllegalArgument,
				"mount %d needs a stage name and an absolute mount path", i).
				WithComponent("executor").
				WithDetail("job", job.Name)
		}
		name := fmt.Sprintf("vol%d", i+1)
		container.VolumeMounts = append(container.VolumeMounts, volumeMount{
			Name:      name,
			MountPath: m.MountPath,
		})
		body.Volumes = append(body.Volumes, volumeSpec{
			Name:   name,
			Source: "@" + m.Stage,
		})
	}
	body.Containers = []containerSpec{container}

	out, err := yaml.Marshal(serviceSpec{Spec: body})
	if err != nil {
		return "", perrors.Wrap(perrors.ErrCodeIllegalArgument, "cannot render job specification", err).
			WithComponent("executor").
			WithDetail("job", job.Name)
	}
	return string(out), nil
}

// quoteString single-quotes s for interpolation into a command, doubling
// embedded quotes.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteIdent returns s ready for use as one identifier part. Plain
// identifiers pass through; anything else is double-quoted, which also
// makes it case-sensitive.
func quoteIdent(s string) string {
	if isPlainIdent(s) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' || r == '$':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
