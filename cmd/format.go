package main

import (
	"encoding/json"
	"fmt"

	"go.yaml.in/yaml/v4"
)

func (result *LoadTestResult) Json() (string, error) {
	prettyJSON, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	return string(prettyJSON), nil
}

func (result *LoadTestResult) Yaml() (string, error) {
	yamlData, err := yaml.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %w", err)
	}

	return string(yamlData), nil
}
