package tools

// BuildDefault assembles the kernel's fixed tool set: perception
// (read_file, scan_repo), manipulation (edit_file, create_file,
// delete_file), and runtime (run_command). sb may be nil in tests that
// never exercise run_command.
func BuildDefault(sb Sandbox, sandboxWorkingDir string) *Registry {
	b := NewBuilder().
		Register(readFileTool{}).
		Register(scanRepoTool{}).
		Register(editFileTool{}).
		Register(createFileTool{}).
		Register(deleteFileTool{})

	if sb != nil {
		b.Register(NewRunCommandTool(sb, sandboxWorkingDir))
	}
	return b.Build()
}
