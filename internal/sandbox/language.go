package sandbox

import (
	"fmt"
	"strings"
)

// Language enumerates the closed set of supported submission languages.
type Language string

const (
	LangC      Language = "c"
	LangCPP    Language = "cpp"
	LangJava   Language = "java"
	LangPython Language = "python"
)

// ParseLanguage normalizes a client-supplied language tag.
func ParseLanguage(s string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c":
		return LangC, true
	case "cpp", "c++":
		return LangCPP, true
	case "java":
		return LangJava, true
	case "python", "python3", "py":
		return LangPython, true
	}
	return "", false
}

// profile describes how one language compiles and runs inside a job
// workspace. Native and Python programs run under a shell ulimit for the
// address-space ceiling; the JVM gets -Xmx instead because it needs
// virtual address space far beyond the heap.
type profile struct {
	sourceFile string
	compiled   bool
	compile    func(dir string) []string
	run        func(dir string, memoryMB int) []string
}

func ulimitWrap(memoryMB int, argv string) []string {
	kb := memoryMB * 1024
	return []string{"/bin/sh", "-c", fmt.Sprintf("ulimit -v %d 2>/dev/null; exec %s", kb, argv)}
}

var profiles = map[Language]profile{
	LangC: {
		sourceFile: "main.c",
		compiled:   true,
		compile: func(dir string) []string {
			return []string{"gcc", "-O2", "-std=c11", "-o", "prog", "main.c", "-lm"}
		},
		run: func(dir string, memoryMB int) []string {
			return ulimitWrap(memoryMB, "./prog")
		},
	},
	LangCPP: {
		sourceFile: "main.cpp",
		compiled:   true,
		compile: func(dir string) []string {
			return []string{"g++", "-O2", "-std=c++17", "-o", "prog", "main.cpp"}
		},
		run: func(dir string, memoryMB int) []string {
			return ulimitWrap(memoryMB, "./prog")
		},
	},
	LangJava: {
		sourceFile: "Main.java",
		compiled:   true,
		compile: func(dir string) []string {
			return []string{"javac", "Main.java"}
		},
		run: func(dir string, memoryMB int) []string {
			return []string{"java", "-XX:+UseSerialGC", fmt.Sprintf("-Xmx%dm", memoryMB), "-cp", ".", "Main"}
		},
	},
	LangPython: {
		sourceFile: "main.py",
		compiled:   false,
		run: func(dir string, memoryMB int) []string {
			return ulimitWrap(memoryMB, "python3 main.py")
		},
	},
}
