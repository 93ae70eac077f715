package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pravindurgani/agent-sutra/safety"
)

type dockerStatus struct {
	available bool
	checkedAt time.Time
}

// dockerAvailable checks that the daemon is running and the sandbox image
// exists. Cached for 60s; fast-fails on a missing control socket before
// spawning anything.
func (r *Runner) dockerAvailable() bool {
	r.dockerMu.Lock()
	defer r.dockerMu.Unlock()

	if time.Since(r.dockerStatus.checkedAt) < 60*time.Second {
		return r.dockerStatus.available
	}
	r.dockerStatus.checkedAt = time.Now()
	r.dockerStatus.available = false

	if os.Getenv("DOCKER_HOST") == "" {
		home, _ := os.UserHomeDir()
		sockets := []string{"/var/run/docker.sock", filepath.Join(home, ".docker", "run", "docker.sock")}
		found := false
		for _, s := range sockets {
			if _, err := os.Stat(s); err == nil {
				found = true
				break
			}
		}
		if !found {
			log.Printf("sandbox: docker socket not found, falling back to subprocess execution")
			return false
		}
	}

	if err := runQuiet(5*time.Second, "docker", "info"); err != nil {
		log.Printf("sandbox: docker daemon not running, falling back to subprocess execution")
		return false
	}
	if err := runQuiet(5*time.Second, "docker", "image", "inspect", r.opts.DockerImage); err != nil {
		log.Printf("sandbox: docker running but image %q not found", r.opts.DockerImage)
		return false
	}

	r.dockerStatus.available = true
	return true
}

func runQuiet(timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}

// buildDockerArgs assembles the docker run invocation. The working
// directory and the pip cache are mounted read-write; uploads are
// read-only; all capabilities dropped.
func (r *Runner) buildDockerArgs(containerName, workingDir, scriptPath, language string) []string {
	args := []string{
		"run",
		"--name", containerName,
		"--rm",
		"-v", fmt.Sprintf("%s:%s", workingDir, workingDir),
		"-v", fmt.Sprintf("%s:%s:ro", r.opts.UploadsDir, r.opts.UploadsDir),
		"-v", fmt.Sprintf("%s:/pip-cache", r.opts.PipCacheDir),
		"-e", "PIP_TARGET=/pip-cache",
		"-e", "PYTHONPATH=/pip-cache",
		"--memory", r.opts.DockerMemoryLimit,
		"--cpus", fmt.Sprintf("%g", r.opts.DockerCPULimit),
		"--pids-limit", fmt.Sprintf("%d", r.opts.DockerPidsLimit),
		"--network", r.opts.DockerNetwork,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-w", workingDir,
		r.opts.DockerImage,
	}
	switch language {
	case "javascript":
		args = append(args, "node", scriptPath)
	case "bash":
		args = append(args, "bash", "-e", scriptPath)
	default:
		args = append(args, "python3", "-u", scriptPath)
	}
	return args
}

// runCodeDocker executes code inside a disposable container. The working
// directory is validated even here, since it is mounted read-write.
func (r *Runner) runCodeDocker(ctx context.Context, taskID, code, language string, timeout time.Duration, workingDir string) ExecutionResult {
	if res := safety.ValidateWorkingDir(workingDir, r.opts.HostHome); res.Blocked {
		return failure(res.Reason)
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return failure(fmt.Sprintf("cannot create working directory %s: %v", workingDir, err))
	}

	before := snapshotMtimes(workingDir)

	scriptPath, err := writeScript(workingDir, code, language)
	if err != nil {
		return failure(err.Error())
	}
	defer os.Remove(scriptPath)

	containerName := "agentsutra-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	args := r.buildDockerArgs(containerName, workingDir, scriptPath, language)

	log.Printf("sandbox: docker exec: %s code (timeout=%s, cwd=%s, container=%s, network=%s)",
		language, timeout, workingDir, containerName, r.opts.DockerNetwork)

	result := r.runProcess(ctx, taskID, append([]string{"docker"}, args...), "", workingDir, timeout, nil)
	if result.TimedOut {
		// The docker client was killed; the named container needs an
		// explicit kill too.
		log.Printf("sandbox: docker execution timed out, killing container %s", containerName)
		_ = runQuiet(5*time.Second, "docker", "kill", containerName)
		_ = runQuiet(5*time.Second, "docker", "rm", "-f", containerName)
		return result
	}
	if !result.Success {
		result.Traceback = ExtractTraceback(result.Stderr)
	}
	result.Artifacts = collectArtifacts(result.Stdout, workingDir, scriptPath, before, r.opts.ArtifactSanityLimit)
	return result
}

// dockerPipInstall installs a package into the shared pip cache volume.
// Serialized under a process-wide mutex so concurrent auto-installs do
// not corrupt the cache.
func (r *Runner) dockerPipInstall(ctx context.Context, pkg string) ExecutionResult {
	r.pipMu.Lock()
	defer r.pipMu.Unlock()

	containerName := "agentsutra-pip-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	args := []string{
		"docker", "run",
		"--name", containerName,
		"--rm",
		"-v", fmt.Sprintf("%s:/pip-cache", r.opts.PipCacheDir),
		"-e", "PIP_TARGET=/pip-cache",
		"--network", r.opts.DockerNetwork,
		r.opts.DockerImage,
		"pip", "install", pkg,
	}

	result := r.runProcess(ctx, "pip-install", args, "", r.opts.PipCacheDir, 120*time.Second, nil)
	if result.TimedOut {
		_ = runQuiet(5*time.Second, "docker", "kill", containerName)
		_ = runQuiet(5*time.Second, "docker", "rm", "-f", containerName)
	}
	return result
}
