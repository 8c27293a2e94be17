// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles maps the chat theme preference onto lipgloss styles for the
// terminal renderers.
//
// The browser themes (contrast-dark, contrast-light, dark, light, sepia) each
// have a terminal Palette. Colors are AdaptiveColor where the theme does not
// force a background, so dark and light terminals both stay readable.
//
//	theme := styles.NewTheme(prefs.Theme)
//	fmt.Println(theme.UserLabel.Render("You"))
package styles
