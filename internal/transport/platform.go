//go:build !android

package transport

// Desktop BLE stacks scan without a location grant.
const requiresFineLocation = false
