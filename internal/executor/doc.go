// Package executor runs workflow tasks as asynchronous job services on a
// Snowflake compute pool.
//
// A task submission is a single SQL statement: the job's container spec is
// rendered to YAML and inlined into EXECUTE JOB SERVICE, with every stage
// mount translated into a volume whose source is the stage itself:
//
//	EXECUTE JOB SERVICE IN COMPUTE POOL nf_pool
//	  NAME = PIPELINES.RUNS.nxf_task_1
//	  ASYNC = TRUE
//	  FROM SPECIFICATION '
//	    spec:
//	      containers:
//	      - name: main
//	        image: ubuntu:22.04
//	        volumeMounts:
//	        - name: vol1
//	          mountPath: /mnt/work
//	      volumes:
//	      - name: vol1
//	        source: "@nxf_work"
//	  '
//
// ASYNC = TRUE makes Submit return as soon as the service is accepted.
// Progress is observed by polling SYSTEM$GET_SERVICE_STATUS, which reports
// one entry per container; the job's state is the worst container state,
// so a single failed container fails the whole job and the job is done
// only when every container is. Wait polls under a limiter shared by all
// concurrent waits, which keeps a wide WaitAll fan-out from turning the
// poll interval into a poll rate multiplied by the number of jobs.
//
// Task names come from the workflow engine and are not always legal
// unquoted identifiers (nxf-task-7), so every name part is run through
// quoteIdent before it is spliced into SQL. Dropping a service that has
// already been cleaned up is treated as success.
package executor
