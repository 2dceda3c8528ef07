// Copyright 2018 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package config loads the JSON server configuration file, with typed
// getters over a raw map in the style of the metanode config package.
package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	raw map[string]interface{}
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfigString(data)
}

func LoadConfigString(data []byte) (*Config, error) {
	c := &Config{raw: make(map[string]interface{})}
	if err := json.Unmarshal(data, &c.raw); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) GetString(key string) string {
	v, ok := c.raw[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c *Config) GetInt64(key string) int64 {
	v, ok := c.raw[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func (c *Config) GetBool(key string) bool {
	v, ok := c.raw[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (c *Config) GetArray(key string) []interface{} {
	v, ok := c.raw[key]
	if !ok {
		return nil
	}
	arr, _ := v.([]interface{})
	return arr
}
