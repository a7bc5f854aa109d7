package postgres

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version VARCHAR(50) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT false,
				is_template BOOLEAN NOT NULL DEFAULT false,
				category VARCHAR(255),
				tags JSONB,
				status VARCHAR(50) NOT NULL,
				project_id VARCHAR(255),
				metadata JSONB,
				created_by VARCHAR(255),
				updated_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_project_id ON workflows(project_id);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL DEFAULT '',
				node_type VARCHAR(50) NOT NULL,
				position_x DOUBLE PRECISION NOT NULL DEFAULT 0,
				position_y DOUBLE PRECISION NOT NULL DEFAULT 0,
				data JSONB,
				execution_order INT,
				is_valid BOOLEAN NOT NULL DEFAULT false,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE TABLE workflow_edges (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_id VARCHAR(255) NOT NULL,
				target_id VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL DEFAULT '',
				condition TEXT NOT NULL DEFAULT '',
				condition_kind VARCHAR(50) NOT NULL DEFAULT '',
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_edges_source ON workflow_edges(workflow_id, source_id);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				positions JSONB,
				progress_percentage INT NOT NULL DEFAULT 0,
				input_data JSONB,
				output_data JSONB,
				snapshot JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				triggered_by VARCHAR(255),
				result_summary TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				parent_execution_id VARCHAR(255),
				parent_node_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);
			CREATE INDEX idx_workflow_executions_parent ON workflow_executions(parent_execution_id);

			CREATE TABLE node_execution_logs (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input_data JSONB,
				output_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				result_message TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_node_execution_logs_execution_id ON node_execution_logs(execution_id);
		`,
	}
}
