// Package providers registers every built-in provider with the default registry when imported.
package providers

import (
	_ "github.com/alanbriolat/bili-archiver/provider/bilibili"
)
