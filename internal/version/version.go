// ABOUTME: Version and client identity constants
// ABOUTME: Reported to the server during authentication
package version

// Version is the client release
const Version = "0.1.0"

// Product is the client name sent in authenticate
const Product = "voxta-go"

// Manufacturer identifies the publisher in discovery records and the TUI
const Manufacturer = "talktome"

// String returns the product and version
func String() string {
	return Product + "/" + Version
}
