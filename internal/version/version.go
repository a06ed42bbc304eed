package version

// Version is the current version of the meshcall CLI.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/BioHazard786/meshcall/internal/version.Version=v1.0.0'"
var Version = "dev"

// Client identifies this build in the control channel hello.
func Client() string {
	return "meshcall-cli/" + Version
}
