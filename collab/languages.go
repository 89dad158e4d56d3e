package collab

import (
	"path"
	"strings"
)

// Language identifiers understood by the editor and the execution service.
const (
	LangJava       = "java"
	LangPython     = "python"
	LangCpp        = "cpp"
	LangJavaScript = "javascript"
	LangGo         = "go"
	LangPlainText  = "plaintext"
)

var starters = map[string]string{
	LangJava: `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello, World!");
    }
}
`,
	LangPython: `print("Hello, World!")
`,
	LangCpp: `#include <iostream>

int main() {
    std::cout << "Hello, World!" << std::endl;
    return 0;
}
`,
	LangJavaScript: `console.log("Hello, World!");
`,
	LangGo: `package main

import "fmt"

func main() {
	fmt.Println("Hello, World!")
}
`,
}

var extensions = map[string]string{
	".java": LangJava,
	".py":   LangPython,
	".cpp":  LangCpp,
	".js":   LangJavaScript,
	".go":   LangGo,
}

// StarterContent returns the canonical starter program for lang, or an empty
// string for unknown languages.
func StarterContent(lang string) string {
	return starters[lang]
}

// LanguageForFile infers a language from the file extension.
func LanguageForFile(name string) string {
	if lang, ok := extensions[strings.ToLower(path.Ext(name))]; ok {
		return lang
	}
	return LangPlainText
}

// DefaultFileName is the file a fresh workspace starts with.
const DefaultFileName = "Main.java"
