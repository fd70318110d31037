package emulators

// ImageContainer describes a container image and the ports it serves on.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

// GCImageContainer is an ImageContainer for a Google Cloud emulator.
type GCImageContainer struct {
	ImageContainer
	ProjectID       string
	SetEnvVariables bool
}

// EmulatorConnectionInfo is what a test needs to reach a started container.
// Containers are terminated through t.Cleanup.
type EmulatorConnectionInfo struct {
	EmulatorAddress string
}
