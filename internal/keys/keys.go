// Package keys models the S3 key hierarchy the pipeline coordinates
// through. Every marker, trigger, and output location is derived from the
// canonical layout
//
//	case/{exhibits|wire}/{document}/{trigger_folder}/{file}
//
// and the derived namespaces under case/doc_pdf/ and case/runs/. All actors
// agree on these conventions, so they live in one place.
package keys

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// MetadataSeparator splits the document name from the expected trigger
	// count in a metadata marker: "{document}___{count}".
	MetadataSeparator = "___"

	// CombineChildrenFolder is the designated suffix folder whose children
	// collapse into the parent trigger folder.
	CombineChildrenFolder = "full_marks"

	// SuccessPrefix prefixes per-trigger-folder completion markers.
	SuccessPrefix = "Success_"

	controlFilesFolder = "doc_pdf/control_files"
	unprocessedFolder  = "doc_pdf/unprocessed_files"
	unmergedFolder     = "doc_pdf/unmerged_control_files"
	mergedOutputFolder = "doc_pdf"
	runsFolder         = "runs"
)

// TriggerFolder identifies one unit of work: a folder whose files are
// converted together and whose completion is independently observable.
type TriggerFolder struct {
	Case     string
	Category string
	Document string
	Trigger  string
}

// ParseTriggerFolder parses a trigger-object key of the form
// case/category/document/trigger. Deeper keys are rejected; the Partitioner
// only ever writes document-level triggers.
func ParseTriggerFolder(key string) (TriggerFolder, error) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) != 4 {
		return TriggerFolder{}, fmt.Errorf("trigger key %q: want 4 path segments, got %d", key, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return TriggerFolder{}, fmt.Errorf("trigger key %q: empty path segment", key)
		}
	}
	return TriggerFolder{Case: parts[0], Category: parts[1], Document: parts[2], Trigger: parts[3]}, nil
}

// Key returns the trigger-object key.
func (t TriggerFolder) Key() string {
	return strings.Join([]string{t.Case, t.Category, t.Document, t.Trigger}, "/")
}

// DocumentPrefix returns the document folder prefix with a trailing slash,
// which doubles as the metadata namespace for the document.
func (t TriggerFolder) DocumentPrefix() string {
	return strings.Join([]string{t.Case, t.Category, t.Document}, "/") + "/"
}

// SuccessKey returns the per-trigger-folder success marker key under the
// document's metadata prefix.
func (t TriggerFolder) SuccessKey() string {
	return t.DocumentPrefix() + SuccessPrefix + t.Trigger
}

// UnprocessedKey returns the per-trigger-folder failure marker key. The
// category segment is replaced by the unprocessed namespace so the marker
// never lands in a listed input prefix.
func (t TriggerFolder) UnprocessedKey() string {
	return strings.Join([]string{t.Case, unprocessedFolder, t.Document, t.Trigger}, "/")
}

// ControlFileKey returns the per-document control-file key, which is also
// the fixed merge-trigger key for the document.
func (t TriggerFolder) ControlFileKey() string {
	return ControlFileKey(t.Case, t.Document)
}

// ControlFileKey builds case/doc_pdf/control_files/{document}.json.
func ControlFileKey(caseID, document string) string {
	return strings.Join([]string{caseID, controlFilesFolder, document + ".json"}, "/")
}

// UnmergedKey builds case/doc_pdf/unmerged_control_files/{document}.json,
// the terminal marker for an exhibit whose merge failed.
func UnmergedKey(caseID, document string) string {
	return strings.Join([]string{caseID, unmergedFolder, document + ".json"}, "/")
}

// MergedOutputKey builds case/doc_pdf/{exhibit}/{name}, the upload location
// of a merged PDF.
func MergedOutputKey(caseID, exhibitID, name string) string {
	return strings.Join([]string{caseID, mergedOutputFolder, exhibitID, name}, "/")
}

// CompletedKey and IncompleteKey are the case-level terminal markers.
func CompletedKey(caseID string) string  { return caseID + "/" + runsFolder + "/COMPLETED" }
func IncompleteKey(caseID string) string { return caseID + "/" + runsFolder + "/INCOMPLETE" }

// UnprocessedPrefix returns the listing prefix for a case's unprocessed
// markers.
func UnprocessedPrefix(caseID string) string {
	return caseID + "/" + unprocessedFolder + "/"
}

// MetadataMarkerKey builds the durable record of the expected trigger count
// for a document: case/category/document/document___N.
func MetadataMarkerKey(caseID, category, document string, expected int) string {
	return strings.Join([]string{caseID, category, document, document + MetadataSeparator + strconv.Itoa(expected)}, "/")
}

// ExpectedCount extracts N from a metadata marker key. The second return is
// false when the key does not follow the {document}___{count} convention.
func ExpectedCount(markerKey string) (int, bool) {
	base := markerKey[strings.LastIndex(markerKey, "/")+1:]
	i := strings.LastIndex(base, MetadataSeparator)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+len(MetadataSeparator):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// IsMetadataMarker reports whether key names the metadata marker for the
// given document.
func IsMetadataMarker(key, document string) bool {
	base := key[strings.LastIndex(key, "/")+1:]
	if !strings.HasPrefix(base, document+MetadataSeparator) {
		return false
	}
	_, ok := ExpectedCount(key)
	return ok
}

// IsSuccessMarker reports whether key names a per-trigger success marker.
func IsSuccessMarker(key string) bool {
	base := key[strings.LastIndex(key, "/")+1:]
	return strings.HasPrefix(base, SuccessPrefix)
}

// FolderOf returns the folder of a file key, collapsing the designated
// combine-children folder into its parent.
func FolderOf(fileKey string) string {
	folder := fileKey
	if i := strings.LastIndex(folder, "/"); i >= 0 {
		folder = folder[:i]
	}
	if strings.HasSuffix(folder, "/"+CombineChildrenFolder) {
		folder = folder[:len(folder)-len(CombineChildrenFolder)-1]
	}
	return folder
}

// DocumentLevel truncates a folder path to the case/category/document/trigger
// depth. Folders shallower than four segments are returned unchanged with
// ok=false.
func DocumentLevel(folder string) (string, bool) {
	parts := strings.Split(folder, "/")
	if len(parts) < 4 {
		return folder, false
	}
	return strings.Join(parts[:4], "/"), true
}

// OutputKey maps an input file key to its converted-output key: the category
// segment is swapped for outputFolder and the extension replaced with .pdf.
func OutputKey(fileKey, outputFolder string) string {
	parts := strings.Split(fileKey, "/")
	if len(parts) > 1 {
		parts[1] = outputFolder
	}
	out := strings.Join(parts, "/")
	if i := strings.LastIndex(out, "."); i > strings.LastIndex(out, "/") {
		out = out[:i]
	}
	return out + ".pdf"
}

// DocumentOfControlFile extracts (case, document) from a control-file key.
func DocumentOfControlFile(controlKey string) (caseID, document string, err error) {
	parts := strings.Split(controlKey, "/")
	if len(parts) != 4 || parts[1]+"/"+parts[2] != controlFilesFolder {
		return "", "", fmt.Errorf("control file key %q: want case/%s/{document}.json", controlKey, controlFilesFolder)
	}
	return parts[0], strings.TrimSuffix(parts[3], ".json"), nil
}

// MetadataPrefixFor returns the document metadata prefix cleaned up by the
// Merger after an exhibit resolves: case/{category}/{document}/.
func MetadataPrefixFor(caseID, category, document string) string {
	return strings.Join([]string{caseID, category, document}, "/") + "/"
}

// DistinctDocuments counts the distinct document identities among
// unprocessed marker keys (case/doc_pdf/unprocessed_files/{document}/...).
// Multiple failed trigger folders or files under one document count once.
func DistinctDocuments(markerKeys []string) int {
	seen := make(map[string]struct{})
	for _, k := range markerKeys {
		parts := strings.Split(k, "/")
		if len(parts) > 3 {
			seen[parts[3]] = struct{}{}
		}
	}
	return len(seen)
}
