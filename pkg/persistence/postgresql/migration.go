package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				entity_type VARCHAR(64) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				graph JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_entity_type ON workflows(entity_type);

			CREATE TABLE rules (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				entity_type VARCHAR(64) NOT NULL,
				conditions JSONB NOT NULL,
				actions JSONB NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT false,
				schedule VARCHAR(255),
				execution_limit INTEGER CHECK (execution_limit > 0),
				execution_count INTEGER NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_rules_active ON rules(entity_type, is_active, priority DESC, created_at);
		`,
		2: `
			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				workflow_id UUID,
				rule_id UUID,
				entity_type VARCHAR(64) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				mode VARCHAR(32) NOT NULL,
				status VARCHAR(32) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				triggered_by VARCHAR(255) NOT NULL DEFAULT '',
				definition JSONB,
				action_count INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				resume_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				CHECK (workflow_id IS NULL OR rule_id IS NULL)
			);

			CREATE INDEX idx_executions_entity ON executions(entity_type, entity_id, started_at DESC);
			CREATE INDEX idx_executions_rule_id ON executions(rule_id);

			CREATE TABLE action_records (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				sequence INTEGER NOT NULL,
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				action_type VARCHAR(64) NOT NULL,
				input JSONB NOT NULL,
				status VARCHAR(32) NOT NULL,
				result JSONB,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				UNIQUE (execution_id, sequence)
			);

			CREATE TABLE audit_log (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL,
				action_id UUID,
				event VARCHAR(64) NOT NULL,
				payload JSONB,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_log_execution_id ON audit_log(execution_id, recorded_at);
		`,
		3: `
			CREATE TABLE departments (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL
			);

			CREATE UNIQUE INDEX idx_departments_name ON departments(LOWER(name));

			CREATE TABLE users (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				department_id VARCHAR(255) REFERENCES departments(id) ON DELETE SET NULL,
				role VARCHAR(64) NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_users_department ON users(department_id, role);

			CREATE TABLE entities (
				entity_type VARCHAR(64) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				fields JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (entity_type, entity_id)
			);
		`,
	}
}
