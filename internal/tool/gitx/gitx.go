// Package gitx provides the version-control tool set, shelling out to the
// git binary in the target repository.
package gitx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gosuda/loom/internal/tool"
)

// Field and record separators for machine-readable git pretty formats.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// Tools returns the git tool set for registration.
func Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunc("git_clone",
			"Clone a git repository using HTTPS",
			[]tool.Param{
				{Name: "repo_url", Type: "string", Required: true, Description: "The HTTPS URL of the repository to clone"},
				{Name: "target_path", Type: "string", Required: false, Description: "The path where to clone the repository"},
			},
			"String - confirmation message indicating success or failure",
			gitClone),
		tool.NewFunc("git_commit",
			"Stage all changes and create a commit",
			[]tool.Param{
				{Name: "message", Type: "string", Required: true, Description: "The commit message"},
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
			},
			"String - confirmation message indicating success or failure",
			gitCommit),
		tool.NewFunc("git_restore",
			"Restore the repository or specific files to a previous state",
			[]tool.Param{
				{Name: "commit_hash", Type: "string", Required: false, Description: "The commit hash to restore to. If not provided, unstages all changes"},
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
				{Name: "files", Type: "list", Required: false, Description: "List of specific files to restore. If not provided, restores everything"},
			},
			"String - confirmation message indicating success or failure",
			gitRestore),
		tool.NewFunc("git_push",
			"Push commits to a remote repository",
			[]tool.Param{
				{Name: "remote", Type: "string", Required: false, Description: "The remote name (defaults to 'origin')"},
				{Name: "branch", Type: "string", Required: false, Description: "The branch name to push to (defaults to 'main')"},
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
			},
			"String - confirmation message indicating success or failure",
			gitPush),
		tool.NewFunc("git_log",
			"Get the commit history of the repository",
			[]tool.Param{
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
				{Name: "max_count", Type: "integer", Required: false, Description: "Maximum number of commits to return"},
				{Name: "since", Type: "string", Required: false, Description: `Get commits since this date (e.g., "2024-01-01" or "1 week ago")`},
			},
			"String - JSON formatted commit history with hash, author, date, and message for each commit",
			gitLog),
		tool.NewFunc("git_show",
			"Get detailed information about a specific commit",
			[]tool.Param{
				{Name: "commit_hash", Type: "string", Required: true, Description: "The hash of the commit to inspect"},
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
			},
			"String - JSON formatted commit details including metadata and changed files",
			gitShow),
		tool.NewFunc("git_status",
			"Get the current status of the repository",
			[]tool.Param{
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
			},
			"String - JSON formatted repository status including staged, unstaged, and untracked changes",
			gitStatus),
		tool.NewFunc("git_diff",
			"Get the differences between commits, staged changes, or working directory",
			[]tool.Param{
				{Name: "path", Type: "string", Required: false, Description: "The path to the git repository (defaults to current directory)"},
				{Name: "commit1", Type: "string", Required: false, Description: "First commit hash for comparison"},
				{Name: "commit2", Type: "string", Required: false, Description: "Second commit hash for comparison"},
				{Name: "staged", Type: "boolean", Required: false, Description: "If true, show staged changes (ignored if commits are specified)"},
				{Name: "file_path", Type: "string", Required: false, Description: "Path to specific file to diff"},
			},
			"String - JSON formatted diff information with summary and per-file changes",
			gitDiff),
	}
}

// run executes git with args in dir and returns combined trimmed output.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(buf.String()), nil
}

func repoPath(args map[string]any) (string, error) {
	return tool.StringArg(args, "path", false, ".")
}

func gitClone(ctx context.Context, args map[string]any) (string, error) {
	repoURL, err := tool.StringArg(args, "repo_url", true, "")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(repoURL, "https://") {
		return "", fmt.Errorf("only HTTPS repository URLs are supported, got %q", repoURL)
	}
	targetPath, err := tool.StringArg(args, "target_path", false, "")
	if err != nil {
		return "", err
	}

	cloneArgs := []string{"clone", repoURL}
	if targetPath != "" {
		cloneArgs = append(cloneArgs, targetPath)
	}
	if _, err := run(ctx, ".", cloneArgs...); err != nil {
		return "", err
	}

	dest := targetPath
	if dest == "" {
		dest = strings.TrimSuffix(repoURL[strings.LastIndex(repoURL, "/")+1:], ".git")
	}
	return "Successfully cloned " + repoURL + " into " + dest, nil
}

func gitCommit(ctx context.Context, args map[string]any) (string, error) {
	message, err := tool.StringArg(args, "message", true, "")
	if err != nil {
		return "", err
	}
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}

	if _, err := run(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	out, err := run(ctx, dir, "commit", "-m", message)
	if err != nil {
		return "", err
	}
	return "Successfully committed: " + out, nil
}

func gitRestore(ctx context.Context, args map[string]any) (string, error) {
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}
	commitHash, err := tool.StringArg(args, "commit_hash", false, "")
	if err != nil {
		return "", err
	}
	files, err := tool.StringListArg(args, "files")
	if err != nil {
		return "", err
	}

	switch {
	case commitHash == "" && len(files) == 0:
		if _, err := run(ctx, dir, "reset"); err != nil {
			return "", err
		}
		return "Successfully unstaged all changes", nil
	case commitHash == "":
		restoreArgs := append([]string{"restore", "--"}, files...)
		if _, err := run(ctx, dir, restoreArgs...); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully restored %d file(s)", len(files)), nil
	case len(files) == 0:
		if _, err := run(ctx, dir, "reset", "--hard", commitHash); err != nil {
			return "", err
		}
		return "Successfully restored repository to " + commitHash, nil
	default:
		restoreArgs := append([]string{"restore", "--source", commitHash, "--"}, files...)
		if _, err := run(ctx, dir, restoreArgs...); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully restored %d file(s) to %s", len(files), commitHash), nil
	}
}

func gitPush(ctx context.Context, args map[string]any) (string, error) {
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}
	remote, err := tool.StringArg(args, "remote", false, "origin")
	if err != nil {
		return "", err
	}
	branch, err := tool.StringArg(args, "branch", false, "main")
	if err != nil {
		return "", err
	}

	if _, err := run(ctx, dir, "push", remote, branch); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully pushed to %s/%s", remote, branch), nil
}

type commitInfo struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

func gitLog(ctx context.Context, args map[string]any) (string, error) {
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}
	maxCount, err := tool.IntArg(args, "max_count", false, 0)
	if err != nil {
		return "", err
	}
	since, err := tool.StringArg(args, "since", false, "")
	if err != nil {
		return "", err
	}

	logArgs := []string{"log", "--pretty=format:%H" + fieldSep + "%an" + fieldSep + "%ad" + fieldSep + "%s" + recordSep, "--date=iso"}
	if maxCount > 0 {
		logArgs = append(logArgs, "--max-count="+strconv.Itoa(maxCount))
	}
	if since != "" {
		logArgs = append(logArgs, "--since="+since)
	}

	out, err := run(ctx, dir, logArgs...)
	if err != nil {
		return "", err
	}

	commits := []commitInfo{}
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 4)
		if len(fields) != 4 {
			continue
		}
		commits = append(commits, commitInfo{Hash: fields[0], Author: fields[1], Date: fields[2], Message: fields[3]})
	}

	return marshalJSON(map[string]any{"commits": commits, "count": len(commits)})
}

func gitShow(ctx context.Context, args map[string]any) (string, error) {
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}
	commitHash, err := tool.StringArg(args, "commit_hash", true, "")
	if err != nil {
		return "", err
	}

	meta, err := run(ctx, dir, "show", "--no-patch",
		"--pretty=format:%H"+fieldSep+"%an"+fieldSep+"%ae"+fieldSep+"%ad"+fieldSep+"%s", "--date=iso", commitHash)
	if err != nil {
		return "", err
	}
	fields := strings.SplitN(meta, fieldSep, 5)
	if len(fields) != 5 {
		return "", fmt.Errorf("unexpected git show output for %s", commitHash)
	}

	nameStatus, err := run(ctx, dir, "show", "--name-status", "--pretty=format:", commitHash)
	if err != nil {
		return "", err
	}

	type changedFile struct {
		Status string `json:"status"`
		Path   string `json:"path"`
	}
	files := []changedFile{}
	for _, line := range strings.Split(nameStatus, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		files = append(files, changedFile{Status: parts[0], Path: parts[len(parts)-1]})
	}

	return marshalJSON(map[string]any{
		"hash":          fields[0],
		"author":        fields[1],
		"email":         fields[2],
		"date":          fields[3],
		"message":       fields[4],
		"changed_files": files,
	})
}

func gitStatus(ctx context.Context, args map[string]any) (string, error) {
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}

	branch, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	porcelain, err := run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}

	staged := []string{}
	unstaged := []string{}
	untracked := []string{}
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		index, worktree, file := line[0], line[1], line[3:]
		if index == '?' && worktree == '?' {
			untracked = append(untracked, file)
			continue
		}
		if index != ' ' {
			staged = append(staged, file)
		}
		if worktree != ' ' {
			unstaged = append(unstaged, file)
		}
	}

	return marshalJSON(map[string]any{
		"branch":    branch,
		"staged":    staged,
		"unstaged":  unstaged,
		"untracked": untracked,
		"clean":     len(staged) == 0 && len(unstaged) == 0 && len(untracked) == 0,
	})
}

func gitDiff(ctx context.Context, args map[string]any) (string, error) {
	dir, err := repoPath(args)
	if err != nil {
		return "", err
	}
	commit1, err := tool.StringArg(args, "commit1", false, "")
	if err != nil {
		return "", err
	}
	commit2, err := tool.StringArg(args, "commit2", false, "")
	if err != nil {
		return "", err
	}
	staged, err := tool.BoolArg(args, "staged", false)
	if err != nil {
		return "", err
	}
	filePath, err := tool.StringArg(args, "file_path", false, "")
	if err != nil {
		return "", err
	}

	var selector []string
	switch {
	case commit1 != "" && commit2 != "":
		selector = []string{commit1, commit2}
	case commit1 != "":
		selector = []string{commit1}
	case staged:
		selector = []string{"--cached"}
	}

	numstatArgs := append([]string{"diff", "--numstat"}, selector...)
	patchArgs := append([]string{"diff"}, selector...)
	if filePath != "" {
		numstatArgs = append(numstatArgs, "--", filePath)
		patchArgs = append(patchArgs, "--", filePath)
	}

	numstat, err := run(ctx, dir, numstatArgs...)
	if err != nil {
		return "", err
	}

	type fileDiff struct {
		Path      string `json:"path"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
	}
	files := []fileDiff{}
	totalAdd, totalDel := 0, 0
	for _, line := range strings.Split(numstat, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		add, _ := strconv.Atoi(parts[0])
		del, _ := strconv.Atoi(parts[1])
		totalAdd += add
		totalDel += del
		files = append(files, fileDiff{Path: parts[2], Additions: add, Deletions: del})
	}

	patch, err := run(ctx, dir, patchArgs...)
	if err != nil {
		return "", err
	}

	return marshalJSON(map[string]any{
		"summary": map[string]any{
			"files_changed":   len(files),
			"total_additions": totalAdd,
			"total_deletions": totalDel,
		},
		"files": files,
		"patch": patch,
	})
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}
