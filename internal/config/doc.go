// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every field is optional; Default returns the configuration used when no
// file is given. See configs/wsdemo.example.yaml for the full schema.
package config
