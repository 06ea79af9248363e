package connection

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unblu/unblu-mcp/internal/apierr"
)

// Environment describes one port-forward target: which namespace and
// service to forward, on which local port, and where the API lives
// behind it.
type Environment struct {
	Name        string `yaml:"-"`
	LocalPort   int    `yaml:"local_port"`
	Namespace   string `yaml:"namespace"`
	Service     string `yaml:"service"`
	ServicePort int    `yaml:"service_port"`
	APIPath     string `yaml:"api_path"`
}

// DefaultEnvironments is the built-in environment table.
var DefaultEnvironments = map[string]Environment{
	"t1": {Name: "t1", LocalPort: 8084, Namespace: "appl-kop-t1", Service: "haproxy", ServicePort: 8080, APIPath: "/kop/rest/v4"},
	"t2": {Name: "t2", LocalPort: 8085, Namespace: "appl-kop-t2", Service: "haproxy", ServicePort: 8080, APIPath: "/kop/rest/v4"},
	"p1": {Name: "p1", LocalPort: 8086, Namespace: "appl-kop-p1", Service: "haproxy", ServicePort: 8080, APIPath: "/kop/rest/v4"},
	"e1": {Name: "e1", LocalPort: 8087, Namespace: "appl-kop-e1", Service: "haproxy", ServicePort: 8080, APIPath: "/kop/rest/v4"},
}

type environmentsFile struct {
	Environments map[string]Environment `yaml:"environments"`
}

// LoadEnvironments reads an environment table from a YAML document:
//
//	environments:
//	  dev:
//	    local_port: 8084
//	    namespace: appl-kop-dev
//	    service: haproxy      # optional, default haproxy
//	    service_port: 8080    # optional, default 8080
//	    api_path: /kop/rest/v4 # optional
func LoadEnvironments(path string) (map[string]Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.Configuration(
			"pass a readable environments YAML file",
			"read environments file %s: %v", path, err)
	}
	var f environmentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apierr.Configuration(
			"fix the YAML syntax of the environments file",
			"parse environments file %s: %v", path, err)
	}
	if len(f.Environments) == 0 {
		return nil, apierr.Configuration(
			`add an "environments" mapping to the file`,
			"no environments found in %s", path)
	}
	out := make(map[string]Environment, len(f.Environments))
	for name, env := range f.Environments {
		env.Name = name
		if env.Service == "" {
			env.Service = "haproxy"
		}
		if env.ServicePort == 0 {
			env.ServicePort = 8080
		}
		if env.APIPath == "" {
			env.APIPath = "/kop/rest/v4"
		}
		if env.LocalPort == 0 {
			return nil, apierr.Configuration(
				"set local_port for every environment",
				"environment %q has no local_port", name)
		}
		if env.Namespace == "" {
			return nil, apierr.Configuration(
				"set namespace for every environment",
				"environment %q has no namespace", name)
		}
		out[name] = env
	}
	return out, nil
}

// ResolveEnvironment looks up name in envs, falling back to the
// built-in table when envs is nil.
func ResolveEnvironment(name string, envs map[string]Environment) (Environment, error) {
	if envs == nil {
		envs = DefaultEnvironments
	}
	env, ok := envs[name]
	if !ok {
		valid := make([]string, 0, len(envs))
		for n := range envs {
			valid = append(valid, n)
		}
		sort.Strings(valid)
		return Environment{}, apierr.Configuration(
			fmt.Sprintf("valid environments: %s", strings.Join(valid, ", ")),
			"unknown environment %q", name)
	}
	return env, nil
}

// DetectEnvironment guesses the environment from the active kubectl
// context name ("...-t1-..." or a "-t1" suffix). Returns "" when no
// environment matches or kubectl is unavailable.
func DetectEnvironment(envs map[string]Environment) string {
	if envs == nil {
		envs = DefaultEnvironments
	}
	out, err := exec.Command("kubectl", "config", "current-context").Output()
	if err != nil {
		return ""
	}
	context := strings.TrimSpace(string(out))
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(context, "-"+name+"-") || strings.HasSuffix(context, "-"+name) {
			return name
		}
	}
	return ""
}
