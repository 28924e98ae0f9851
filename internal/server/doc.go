// Package server wires the engine, planner, and transports into one HTTP
// server.
//
// Lifecycle:
//  1. Load configuration from environment
//  2. Initialize logger and metrics
//  3. Start the session manager and its idle reaper
//  4. Set up routes and middleware
//  5. Serve until signaled, then drain sessions and shut down
package server
