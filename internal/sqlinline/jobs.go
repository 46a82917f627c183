package sqlinline

const QCreateJobsTable = `--sql 6d1f3c2a-8b7e-4f0a-9c55-2e4b7a1d9f01
create table if not exists relight_jobs (
    id            uuid primary key,
    status        text not null default 'IN_QUEUE',
    input_json    jsonb not null,
    output_json   jsonb,
    error_message text not null default '',
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now()
);
`

const QInsertJob = `--sql 1a7c0e4b-3d2f-4b6a-8e91-5c0d7f2b4a12
insert into relight_jobs (id, status, input_json)
values ($1, $2, $3);
`

const QClaimJob = `--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db
with next_job as (
    select id
    from relight_jobs
    where status = 'IN_QUEUE'
       or (status = 'IN_PROGRESS' and updated_at < now() - make_interval(secs => $1::float8))
    order by created_at asc
    for update skip locked
    limit 1
)
update relight_jobs j
set status = 'IN_PROGRESS', updated_at = now()
from next_job
where j.id = next_job.id
returning j.id, j.status, j.input_json, j.created_at, j.updated_at;
`

const QReleaseJob = `--sql 5e7a2c91-6b3d-4f8e-9a14-7c2e0b5d8f56
update relight_jobs
set status = 'IN_QUEUE', updated_at = now()
where id = $1 and status = 'IN_PROGRESS';
`

const QCompleteJob = `--sql 8e2b6d40-1f3a-4c7d-b5e9-0a6c3f8d2e23
update relight_jobs
set status = 'COMPLETED', output_json = $2, error_message = '', updated_at = now()
where id = $1;
`

const QFailJob = `--sql 9c4d1e7f-2a5b-4e8c-a0f3-6b1d8e2c7f34
update relight_jobs
set status = 'FAILED', error_message = $2, output_json = coalesce($3, output_json), updated_at = now()
where id = $1;
`

const QGetJob = `--sql 3b8e5f1c-7d2a-4a9e-8c6b-1f0e4d7a3b45
select id, status, input_json, coalesce(output_json, 'null'::jsonb), error_message, created_at, updated_at
from relight_jobs
where id = $1;
`
