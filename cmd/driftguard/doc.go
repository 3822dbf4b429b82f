// Command driftguard resolves logical UI elements against a live page,
// interacts with them, and detects visual drift against captured baselines.
package main
