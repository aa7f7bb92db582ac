package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Language is a Judge0 language the code editor offers.
type Language struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Value     string `json:"value"`
	Extension string `json:"extension"`
	Label     string `json:"label"`
	Template  string `json:"template"`
}

// Languages lists the supported Judge0 languages in display order.
var Languages = []Language{
	{ID: 63, Name: "JavaScript (Node.js 12.14.0)", Value: "javascript", Extension: "js", Label: "JavaScript", Template: javascriptTemplate},
	{ID: 71, Name: "Python (3.8.1)", Value: "python", Extension: "py", Label: "Python 3", Template: pythonTemplate},
	{ID: 62, Name: "Java (OpenJDK 13.0.1)", Value: "java", Extension: "java", Label: "Java", Template: javaTemplate},
	{ID: 54, Name: "C++ (GCC 9.2.0)", Value: "cpp", Extension: "cpp", Label: "C++", Template: cppTemplate},
	{ID: 50, Name: "C (GCC 9.2.0)", Value: "c", Extension: "c", Label: "C", Template: cTemplate},
}

// LanguageByID finds a language by its Judge0 id.
func LanguageByID(id int) (Language, bool) {
	for _, l := range Languages {
		if l.ID == id {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageByValue finds a language by its short value ("python", "cpp", ...).
func LanguageByValue(value string) (Language, bool) {
	for _, l := range Languages {
		if l.Value == value {
			return l, true
		}
	}
	return Language{}, false
}

// DefaultTemplate returns the starter code for a language, falling back to JavaScript.
func DefaultTemplate(value string) string {
	if l, ok := LanguageByValue(value); ok {
		return l.Template
	}
	return javascriptTemplate
}

const javascriptTemplate = `function solution() {
    // Read input with require('fs').readFileSync(0, 'utf8')
    return "Hello World";
}

console.log(solution());`

const pythonTemplate = `def solution():
    # Read input with input() or sys.stdin
    return "Hello World"

print(solution())`

const javaTemplate = `import java.util.*;

public class Main {
    public static void main(String[] args) {
        Scanner scanner = new Scanner(System.in);
        System.out.println(new Solution().solution(scanner));
        scanner.close();
    }
}

class Solution {
    public String solution(Scanner scanner) {
        return "Hello World";
    }
}`

const cppTemplate = `#include <iostream>
#include <string>
using namespace std;

string solution() {
    return "Hello World";
}

int main() {
    cout << solution() << endl;
    return 0;
}`

const cTemplate = `#include <stdio.h>

int main() {
    printf("Hello World\n");
    return 0;
}`

// LanguageRef identifies a language either by Judge0 id (71) or by value ("python").
type LanguageRef int

// UnmarshalJSON accepts a number or a string holding an id or a language value.
func (r *LanguageRef) UnmarshalJSON(data []byte) error {
	var id int
	if err := json.Unmarshal(data, &id); err == nil {
		*r = LanguageRef(id)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("language must be a number or a string")
	}
	if n, err := strconv.Atoi(s); err == nil {
		*r = LanguageRef(n)
		return nil
	}
	if l, ok := LanguageByValue(s); ok {
		*r = LanguageRef(l.ID)
		return nil
	}
	// Unknown names resolve to 0, which no language uses.
	*r = 0
	return nil
}

// ID returns the Judge0 language id.
func (r LanguageRef) ID() int { return int(r) }
