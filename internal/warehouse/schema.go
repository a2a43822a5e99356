package warehouse

// DDL holds the CREATE TABLE statements for every warehouse table this
// module owns. MergeTree tables are partitioned by day; watermark tables use
// ReplacingMergeTree keyed for latest-wins reads under FINAL.
var DDL = []string{
	`CREATE TABLE IF NOT EXISTS otel_traces (
		timestamp DateTime64(9) CODEC(Delta, ZSTD),
		trace_id String,
		span_id String,
		parent_span_id String,
		service_name LowCardinality(String),
		span_name String,
		span_kind LowCardinality(String),
		duration_nanos UInt64,
		status_code LowCardinality(String),
		status_message String,
		resource_attributes Map(String, String),
		span_attr_keys Array(String),
		span_attr_values Array(String),
		scope_name String,
		scope_version String,
		event_names Array(String),
		event_timestamps Array(DateTime64(9)),
		link_trace_ids Array(String),
		link_span_ids Array(String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (service_name, timestamp, span_id)`,

	`CREATE TABLE IF NOT EXISTS otel_traces_enriched (
		timestamp DateTime64(9) CODEC(Delta, ZSTD),
		span_id String,
		embedding_text String,
		embedding Array(Float32)
	) ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (timestamp, span_id)`,

	`CREATE TABLE IF NOT EXISTS otel_logs (
		timestamp DateTime64(9) CODEC(Delta, ZSTD),
		trace_id String,
		span_id String,
		severity_number UInt8,
		severity_text LowCardinality(String),
		body String,
		service_name LowCardinality(String),
		resource_attributes Map(String, String),
		log_attributes Map(String, String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (service_name, timestamp)`,

	`CREATE TABLE IF NOT EXISTS otel_metrics (
		timestamp DateTime64(9) CODEC(Delta, ZSTD),
		metric_name String,
		description String,
		unit String,
		metric_type LowCardinality(String),
		value Float64,
		service_name LowCardinality(String),
		resource_attributes Map(String, String),
		metric_attributes Map(String, String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (service_name, metric_name, timestamp)`,

	`CREATE TABLE IF NOT EXISTS loader_file_watermark (
		filename String,
		status LowCardinality(String),
		processed_at DateTime64(3),
		row_count UInt64,
		error_message String
	) ENGINE = ReplacingMergeTree(processed_at)
	ORDER BY filename`,

	`CREATE TABLE IF NOT EXISTS log_loader_file_watermark (
		filename String,
		status LowCardinality(String),
		processed_at DateTime64(3),
		row_count UInt64,
		error_message String
	) ENGINE = ReplacingMergeTree(processed_at)
	ORDER BY filename`,

	`CREATE TABLE IF NOT EXISTS metric_loader_file_watermark (
		filename String,
		status LowCardinality(String),
		processed_at DateTime64(3),
		row_count UInt64,
		error_message String
	) ENGINE = ReplacingMergeTree(processed_at)
	ORDER BY filename`,

	`CREATE TABLE IF NOT EXISTS enricher_watermark (
		watermark_key String,
		last_timestamp DateTime64(9),
		last_span_id String,
		updated_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY watermark_key`,
}
