package types

// Version is the canonical project version.
// The CLI, the saved record schema, and the archive record schema share this
// version (lockstep versioning). Bump it whenever any of them changes shape.
const Version = "0.3.0"
