// Package fs provides the filesystem tool set: reading, writing, editing,
// and managing files and directories on the host.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gosuda/loom/internal/tool"
)

// Tools returns the filesystem tool set for registration.
func Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunc("get_cwd",
			"Get the current working directory",
			nil,
			"String - information about the current working directory",
			getCwd),
		tool.NewFunc("read_file",
			"Read a file in the filesystem with optional line numbering, range selection, and debug formatting",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path and filename of the file to read"},
				{Name: "show_line_numbers", Type: "boolean", Required: false, Description: "whether to include line numbers (defaults to false)"},
				{Name: "start_line", Type: "integer", Required: false, Description: "first line to read, 1-indexed (defaults to 1)"},
				{Name: "end_line", Type: "integer", Required: false, Description: "last line to read, 1-indexed, omit for all lines"},
				{Name: "show_repr", Type: "boolean", Required: false, Description: "whether to show a quoted form of each line, revealing whitespace and special characters (defaults to false)"},
			},
			"String - the contents of the file (potentially formatted with line numbers or quoting), or an error message if reading fails",
			readFile),
		tool.NewFunc("write_file",
			"Write content to a file in the filesystem",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path and filename of the file to write"},
				{Name: "content", Type: "string", Required: true, Description: "the content to write to the file"},
			},
			"String - confirmation message indicating success or failure",
			writeFile),
		tool.NewFunc("append_file",
			"Append content to an existing file in the filesystem",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path and filename of the file to append to"},
				{Name: "content", Type: "string", Required: true, Description: "the content to append to the file"},
			},
			"String - confirmation message indicating success or failure",
			appendFile),
		tool.NewFunc("edit_file",
			"Make a line-based edit to a file by replacing old_text with new_text. The old_text must appear exactly once in the file for safety.",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path and filename of the file to edit"},
				{Name: "old_text", Type: "string", Required: true, Description: "text to be replaced (must match exactly once)"},
				{Name: "new_text", Type: "string", Required: true, Description: "replacement text"},
				{Name: "dry_run", Type: "boolean", Required: false, Description: "if true, just return the diff without making changes (defaults to false)"},
			},
			"String - confirmation message with diff showing changes, or error message if editing fails",
			editFile),
		tool.NewFunc("create_directory",
			"Create a new directory in the filesystem",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path of the directory to create"},
			},
			"String - confirmation message indicating success or failure",
			createDirectory),
		tool.NewFunc("list_directory",
			"List the contents of a directory in the filesystem",
			[]tool.Param{
				{Name: "path", Type: "string", Required: false, Description: "path of the directory to list. If not provided, lists the current working directory."},
			},
			"String - a list of files and directories in the specified path",
			listDirectory),
		tool.NewFunc("copy_file",
			"Copy a file from source to destination",
			[]tool.Param{
				{Name: "source", Type: "string", Required: true, Description: "path to the source file to copy"},
				{Name: "destination", Type: "string", Required: true, Description: "path where the file should be copied to"},
			},
			"String - confirmation message indicating success or failure",
			copyFile),
		tool.NewFunc("remove_file",
			"Remove/delete a single file",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path to the file to delete"},
			},
			"String - confirmation message indicating success or failure",
			removeFile),
		tool.NewFunc("remove_directory",
			"Remove/delete a directory and all its contents",
			[]tool.Param{
				{Name: "path", Type: "string", Required: true, Description: "path to the directory to delete"},
			},
			"String - confirmation message indicating success or failure",
			removeDirectory),
		tool.NewFunc("copy_directory",
			"Copy a directory and all its contents to a new location",
			[]tool.Param{
				{Name: "source", Type: "string", Required: true, Description: "path to the source directory to copy"},
				{Name: "destination", Type: "string", Required: true, Description: "path where the directory should be copied to"},
			},
			"String - confirmation message indicating success or failure",
			copyDirectory),
	}
}

func getCwd(_ context.Context, _ map[string]any) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return "Current working directory: " + cwd, nil
}

func readFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}
	showNumbers, err := tool.BoolArg(args, "show_line_numbers", false)
	if err != nil {
		return "", err
	}
	startLine, err := tool.IntArg(args, "start_line", false, 1)
	if err != nil {
		return "", err
	}
	endLine, err := tool.IntArg(args, "end_line", false, 0)
	if err != nil {
		return "", err
	}
	showRepr, err := tool.BoolArg(args, "show_repr", false)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	if !showNumbers && !showRepr && startLine <= 1 && endLine == 0 {
		return string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine == 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return "", fmt.Errorf("start_line %d past end of file (%d lines)", startLine, len(lines))
	}

	var sb strings.Builder
	for i := startLine; i <= endLine; i++ {
		line := lines[i-1]
		if showRepr {
			line = strconv.Quote(line)
		}
		if showNumbers {
			fmt.Fprintf(&sb, "%6d\t%s\n", i, line)
		} else {
			sb.WriteString(line + "\n")
		}
	}
	return sb.String(), nil
}

func writeFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}
	content, err := tool.StringArg(args, "content", false, "")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

func appendFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}
	content, err := tool.StringArg(args, "content", false, "")
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return "", fmt.Errorf("appending to %s: %w", path, err)
	}
	return fmt.Sprintf("Successfully appended %d bytes to %s", len(content), path), nil
}

func editFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}
	oldText, err := tool.StringArg(args, "old_text", true, "")
	if err != nil {
		return "", err
	}
	newText, err := tool.StringArg(args, "new_text", false, "")
	if err != nil {
		return "", err
	}
	dryRun, err := tool.BoolArg(args, "dry_run", false)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	content := string(data)

	switch n := strings.Count(content, oldText); {
	case n == 0:
		return "", fmt.Errorf("old_text not found in %s", path)
	case n > 1:
		return "", fmt.Errorf("old_text appears %d times in %s, must match exactly once", n, path)
	}

	edited := strings.Replace(content, oldText, newText, 1)
	diff := unifiedDiff(oldText, newText)

	if dryRun {
		return "Dry run, no changes made. Diff:\n" + diff, nil
	}

	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return "Successfully edited " + path + ". Diff:\n" + diff, nil
}

// unifiedDiff renders a minimal removed/added view of the edit.
func unifiedDiff(oldText, newText string) string {
	var sb strings.Builder
	for _, line := range strings.Split(oldText, "\n") {
		sb.WriteString("- " + line + "\n")
	}
	for _, line := range strings.Split(newText, "\n") {
		sb.WriteString("+ " + line + "\n")
	}
	return sb.String()
}

func createDirectory(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", path, err)
	}
	return "Successfully created directory " + path, nil
}

func listDirectory(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", false, ".")
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", path, err)
	}

	var sb strings.Builder
	sb.WriteString("Contents of " + path + ":\n")
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString("  [dir]  " + entry.Name() + "\n")
		} else {
			sb.WriteString("  [file] " + entry.Name() + "\n")
		}
	}
	return sb.String(), nil
}

func copyFile(_ context.Context, args map[string]any) (string, error) {
	source, err := tool.StringArg(args, "source", true, "")
	if err != nil {
		return "", err
	}
	destination, err := tool.StringArg(args, "destination", true, "")
	if err != nil {
		return "", err
	}

	if err := copyFileContents(source, destination); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully copied %s to %s", source, destination), nil
}

func copyFileContents(source, destination string) error {
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening %s: %w", source, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	dst, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", destination, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying %s to %s: %w", source, destination, err)
	}
	return nil
}

func removeFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, use remove_directory", path)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing %s: %w", path, err)
	}
	return "Successfully removed " + path, nil
}

func removeDirectory(_ context.Context, args map[string]any) (string, error) {
	path, err := tool.StringArg(args, "path", true, "")
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory, use remove_file", path)
	}

	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("removing directory %s: %w", path, err)
	}
	return "Successfully removed directory " + path + " and all its contents", nil
}

func copyDirectory(_ context.Context, args map[string]any) (string, error) {
	source, err := tool.StringArg(args, "source", true, "")
	if err != nil {
		return "", err
	}
	destination, err := tool.StringArg(args, "destination", true, "")
	if err != nil {
		return "", err
	}

	info, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", source, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory, use copy_file", source)
	}

	err = filepath.WalkDir(source, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(source, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(destination, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFileContents(path, target)
	})
	if err != nil {
		return "", fmt.Errorf("copying directory %s to %s: %w", source, destination, err)
	}
	return fmt.Sprintf("Successfully copied directory %s to %s", source, destination), nil
}
