package history

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    workload_id TEXT NOT NULL,
    workload_name TEXT NOT NULL,
    prompt_file TEXT NOT NULL,
    report_dir TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    landed BOOLEAN NOT NULL DEFAULT FALSE,
    elapsed_seconds INTEGER NOT NULL DEFAULT 0,
    timeout_seconds INTEGER NOT NULL DEFAULT 0,
    trace_pid INTEGER NOT NULL DEFAULT 0,
    session_starts INTEGER NOT NULL DEFAULT 0,
    polecat_spawns INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT -1
);

CREATE INDEX IF NOT EXISTS idx_runs_workload_id ON runs(workload_id);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS phases (
    run_id TEXT NOT NULL REFERENCES runs(id),
    seq INTEGER NOT NULL,
    name TEXT NOT NULL,
    artifact TEXT NOT NULL,
    ok BOOLEAN NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_phases_run_id ON phases(run_id);
`
