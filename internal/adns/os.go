package adns

import (
	"io/fs"
	"os"
)

// DefaultWOFlags is the default set of flags for opening a write-only file.
const DefaultWOFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// DefaultPerm is the default set of permissions for non-executable files.  Be
// strict about it, since some files can contain sensitive data.
const DefaultPerm fs.FileMode = 0o600

// DefaultDirPerm is the default set of permissions for directories.
const DefaultDirPerm fs.FileMode = 0o700
