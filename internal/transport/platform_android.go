//go:build android

package transport

// Android gates BLE scan results behind the fine-location permission;
// without it a scan silently reports nothing, so refuse to start one.
const requiresFineLocation = true
