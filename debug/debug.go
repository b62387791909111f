package debug

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
)

func init() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
}

//
// Debug output is controlled by the OSALDEBUG environment variable,
// which can be a list of selectors (e.g., "IDMAP;TIMEBASE_ERR").
//

var labels map[Tselector]bool
var labelOnce sync.Once

func debugLabels() map[Tselector]bool {
	labelOnce.Do(func() {
		labels = make(map[Tselector]bool)
		s := os.Getenv("OSALDEBUG")
		if s == "" {
			return
		}
		for _, l := range strings.Split(s, ";") {
			labels[Tselector(l)] = true
		}
	})
	return labels
}

func DPrintf(label Tselector, format string, v ...interface{}) {
	m := debugLabels()
	if m[label] || label == ALWAYS {
		log.Printf("%v %v", label, fmt.Sprintf(format, v...))
	}
}

func DFatalf(format string, v ...interface{}) {
	pc, file, line, ok := runtime.Caller(1)
	fnDetails := runtime.FuncForPC(pc)
	if ok && fnDetails != nil {
		log.Fatalf("FATAL %v %v:%v %v", fnDetails.Name(), file, line, fmt.Sprintf(format, v...))
	} else {
		log.Fatalf("FATAL (missing details) %v", fmt.Sprintf(format, v...))
	}
}
