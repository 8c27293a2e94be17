// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jeranaias/rigrun-web/internal/model"
)

// =============================================================================
// CAPABILITY PROBE
// =============================================================================

// ParseCapabilities reads a /api/show response. Every field named
// "capabilities" (any case, any depth) holding an array contributes its
// values. Unknown values are ignored and absent ones stay false.
func ParseCapabilities(body []byte) model.Capabilities {
	var caps model.Capabilities
	if !gjson.ValidBytes(body) {
		return caps
	}
	walkCapabilities(gjson.ParseBytes(body), &caps)
	return caps
}

func walkCapabilities(node gjson.Result, caps *model.Capabilities) {
	node.ForEach(func(key, value gjson.Result) bool {
		if key.Type == gjson.String && strings.EqualFold(key.Str, "capabilities") && value.IsArray() {
			for _, v := range value.Array() {
				applyCapability(v.String(), caps)
			}
		}
		if value.IsObject() || value.IsArray() {
			walkCapabilities(value, caps)
		}
		return true
	})
}

func applyCapability(name string, caps *model.Capabilities) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "vision":
		caps.Vision = true
	case "tools", "tool":
		caps.Tools = true
	case "thinking", "think":
		caps.Thinking = true
	}
}
