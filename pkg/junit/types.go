// Package junit holds the subset of the jUnit XML document model that
// verification job artifacts use.
package junit

import (
	"encoding/xml"
	"fmt"
)

// TestSuites is the root of a multi-suite report.
type TestSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []*TestSuite `xml:"testsuite"`
}

// TestSuite is one suite of test cases.
type TestSuite struct {
	XMLName    xml.Name     `xml:"testsuite"`
	Name       string       `xml:"name,attr"`
	NumTests   uint         `xml:"tests,attr"`
	NumFailed  uint         `xml:"failures,attr"`
	NumErrors  uint         `xml:"errors,attr"`
	NumSkipped uint         `xml:"skipped,attr"`
	Duration   float64      `xml:"time,attr"`
	TestCases  []*TestCase  `xml:"testcase"`
	Children   []*TestSuite `xml:"testsuite"`
}

// TestCase is one executed test.
type TestCase struct {
	Name          string         `xml:"name,attr"`
	Duration      float64        `xml:"time,attr"`
	SkipMessage   *SkipMessage   `xml:"skipped"`
	FailureOutput *FailureOutput `xml:"failure"`
	ErrorOutput   *FailureOutput `xml:"error"`
	SystemOut     string         `xml:"system-out,omitempty"`
	SystemErr     string         `xml:"system-err,omitempty"`
}

// SkipMessage explains why a test was skipped.
type SkipMessage struct {
	Message string `xml:"message,attr"`
}

// FailureOutput carries the assertion or error output of a failed test.
type FailureOutput struct {
	Message string `xml:"message,attr"`
	Output  string `xml:",chardata"`
}

// Parse reads a junit document whose root is either <testsuites> or a
// single bare <testsuite>.
func Parse(data []byte) (*TestSuites, error) {
	suites := &TestSuites{}
	if err := xml.Unmarshal(data, suites); err == nil {
		return suites, nil
	}
	suite := &TestSuite{}
	if err := xml.Unmarshal(data, suite); err != nil {
		return nil, fmt.Errorf("could not parse junit document: %w", err)
	}
	return &TestSuites{Suites: []*TestSuite{suite}}, nil
}
