package common

// Version is set at build time via -ldflags "-X github.com/ruteri/tee-signer-fabric/common.Version=..."
var Version = "dev"

const PackageName = "github.com/ruteri/tee-signer-fabric"
