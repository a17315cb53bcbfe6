// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import "os"

// zapConsoleSink returns the writer backing console log output, which is
// always os.Stdout.
func zapConsoleSink() *os.File {
	return os.Stdout
}
