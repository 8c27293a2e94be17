// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server serves the browser chat client and its JSON API.
//
// # Endpoints
//
//   - GET  /                              page shell
//   - GET  /static/*                      embedded assets
//   - GET  /api/health                    Ollama reachability
//   - GET  /api/models                    installed models
//   - GET  /api/models/{name}/capabilities
//   - GET  /api/state                     controller snapshot
//   - GET  /api/chats, POST /api/chats
//   - GET  /api/chats/{id}, DELETE /api/chats/{id}
//   - POST /api/messages                  202 Accepted, 409 while busy
//   - POST /api/cancel
//   - POST /api/attachments, DELETE /api/attachments
//   - GET  /api/preferences, PUT /api/preferences, POST /api/preferences/reset
//   - GET  /api/export/history, GET /api/export/preferences
//   - POST /api/import/history
//   - POST /api/clear
//   - GET  /api/events                    Server-Sent Events
//   - GET  /api/ws                        the same events over a WebSocket
//
// Streaming text is rendered to HTML on the server, so the page never
// interprets model output itself.
package server
